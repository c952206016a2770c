// Package httpapi exposes the attendance service over JSON/HTTP.
package httpapi

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smartattendance/internal/attendance"
	"smartattendance/internal/audit"
	"smartattendance/internal/auth"
	"smartattendance/internal/directory"
	"smartattendance/internal/feed"
	"smartattendance/internal/httpmiddleware"
	"smartattendance/internal/session"
	"smartattendance/internal/store"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	DB          *store.DB
	Redis       *store.Redis
	Signer      *auth.Signer
	Directory   *directory.Directory
	Sessions    *session.Registry
	Attendance  *attendance.Service
	Logs        *audit.Store
	Audit       audit.Sink
	Feed        *feed.Hub
	Limiter     httpmiddleware.Limiter
	CORSOrigins []string
	Log         *zap.Logger
}

// Handler holds the HTTP handlers.
type Handler struct {
	db         *store.DB
	redis      *store.Redis
	signer     *auth.Signer
	dir        *directory.Directory
	sessions   *session.Registry
	attendance *attendance.Service
	logs       *audit.Store
	audit      audit.Sink
	feed       *feed.Hub
	log        *zap.Logger
	now        func() time.Time
}

// NewRouter builds the gin engine with middleware and every route mounted.
func NewRouter(d Deps) *gin.Engine {
	useJSONFieldNames()
	if d.Audit == nil {
		d.Audit = audit.Discard
	}
	h := &Handler{
		db:         d.DB,
		redis:      d.Redis,
		signer:     d.Signer,
		dir:        d.Directory,
		sessions:   d.Sessions,
		attendance: d.Attendance,
		logs:       d.Logs,
		audit:      d.Audit,
		feed:       d.Feed,
		log:        d.Log.Named("api"),
		now:        time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(d.Log))
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	if d.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(d.Limiter))
	}
	v1.POST("/auth/login", h.login)
	v1.POST("/auth/refresh", h.refresh)
	v1.POST("/auth/register", h.register)

	authed := v1.Group("", auth.Authenticate(d.Signer))
	authed.GET("/auth/me", h.me)
	authed.POST("/auth/change-password", h.changePassword)
	authed.GET("/courses/mine", h.myCourses)

	admin := authed.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/users", h.createUser)
	admin.GET("/users", h.listUsers)
	admin.PUT("/users/:id", h.updateUser)
	admin.DELETE("/users/:id", h.deleteUser)
	admin.POST("/courses", h.adminCreateCourse)
	admin.GET("/courses", h.adminListCourses)
	admin.PUT("/courses/:id", h.updateCourse)
	admin.DELETE("/courses/:id", h.deleteCourse)
	admin.GET("/logs", h.listLogs)
	admin.GET("/logs/types", h.logTypes)
	admin.GET("/stats", h.adminStats)

	lecturer := authed.Group("", auth.RequireRole(auth.RoleLecturer))
	lecturer.POST("/courses", h.createCourse)

	staff := authed.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleLecturer))
	staff.POST("/courses/:id/students", h.enroll)
	staff.DELETE("/courses/:id/students/:studentId", h.unenroll)
	staff.GET("/courses/:id/students", h.courseStudents)
	staff.GET("/courses/:id/sessions", h.courseSessions)
	staff.GET("/courses/:id/summary", h.courseSummary)
	staff.GET("/courses/:id/low-attendance", h.lowAttendance)

	staff.POST("/sessions", h.createSession)
	staff.GET("/sessions/active", h.activeSessions)
	staff.GET("/sessions/:id", h.getSession)
	staff.POST("/sessions/:id/regenerate", h.regenerate)
	staff.POST("/sessions/:id/extend", h.extend)
	staff.POST("/sessions/:id/close", h.forceClose)
	staff.POST("/sessions/:id/deactivate", h.deactivate)
	staff.POST("/sessions/:id/clone", h.clone)
	staff.POST("/sessions/:id/activate", h.activate)
	staff.GET("/sessions/:id/attendance", h.sessionAttendance)
	staff.POST("/sessions/:id/attendance", h.mark)
	staff.POST("/sessions/:id/attendance/bulk", h.bulkMark)
	staff.GET("/sessions/:id/corrections", h.sessionCorrections)
	staff.GET("/sessions/:id/feed", h.sessionFeed)
	staff.POST("/corrections/:id/approve", h.approveCorrection)
	staff.POST("/corrections/:id/reject", h.rejectCorrection)

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/attendance/scan", h.scan)
	student.POST("/attendance/scan/:token", h.scan)
	student.GET("/students/me/history", h.history)
	student.GET("/students/me/summary", h.studentSummary)
	student.GET("/students/me/dashboard", h.studentDashboard)
	student.GET("/students/me/corrections", h.myCorrections)
	student.POST("/corrections", h.requestCorrection)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
