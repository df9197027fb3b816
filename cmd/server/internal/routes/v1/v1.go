package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	srverr "github.com/algoclash/judge-api/judge-api/cmd/server/internal/error"
	servermiddleware "github.com/algoclash/judge-api/judge-api/cmd/server/internal/middleware"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/outbox"
	"github.com/algoclash/judge-api/judge-api/cmd/server/internal/ratelimit"
	"github.com/algoclash/judge-api/judge-api/internal/config"
	"github.com/algoclash/judge-api/judge-api/internal/logger"
	"github.com/algoclash/judge-api/judge-api/internal/models"
)

const name = "github.com/algoclash/judge-api/judge-api/server/routes/v1"

var tracer = otel.Tracer(name)

type Handler struct {
	DB     *gorm.DB
	outbox *outbox.Store
	config *config.Config
}

func NewHandler(db *gorm.DB, outboxStore *outbox.Store, cfg *config.Config) Handler {
	return Handler{
		DB:     db,
		outbox: outboxStore,
		config: cfg,
	}
}

func NewRedisLimiter(
	redisHost string,
	limiterKey string,
	perMinute int64,
	failOpen bool,
	onlyMethod *string,
) middleware.RateLimiterConfig {
	l := logger.Logger
	var store middleware.RateLimiterStore

	redisAddr := redisHost + ":6379"
	l.Debug("Setting up rate limiter with Redis", "redis", redisAddr)
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	rdConf := &ratelimit.RedisLimiterConfig{
		PerMinute:   perMinute,
		RedisClient: rdb,
		LimiterKey:  limiterKey,
		FailOpen:    failOpen,
	}
	store = ratelimit.NewRedisLimitStore(*rdConf)

	skipper := middleware.DefaultSkipper
	if onlyMethod != nil {
		skipper = func(c echo.Context) bool {
			return c.Request().Method != *onlyMethod
		}
	}

	return middleware.RateLimiterConfig{
		Skipper: skipper,
		Store:   store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			account, ok := c.Get("auth").(*models.Account)
			if !ok {
				return "", srverr.ErrTypeAssertMismatch
			}
			return account.ID.String(), nil
		},
		ErrorHandler: func(context echo.Context, _ error) error {
			return context.JSON(http.StatusForbidden, nil)
		},
		DenyHandler: func(context echo.Context, _ string, _ error) error {
			return context.JSON(http.StatusTooManyRequests, nil)
		},
	}
}

func (h *Handler) AddRoutes(e *echo.Echo, middlewareHandler *servermiddleware.Handler) {
	l := logger.Logger

	v1Group := e.Group("/v1", middleware.BasicAuth(middlewareHandler.BasicAuthValidator))

	v1Group.GET("/ping/", h.Ping)

	v1Group.GET("/problems/", h.ListProblems)
	v1Group.GET("/problems/:problem_slug/", h.GetProblem)
	v1Group.GET("/languages/", h.ListLanguages)

	submissionGroup := v1Group.Group("/submissions")

	if h.config.RateLimit != nil && h.config.RateLimit.SubmitPerMinute > 0 {
		post := http.MethodPost

		submissionGroup.Use(
			middleware.RateLimiterWithConfig(
				NewRedisLimiter(
					h.config.RateLimit.RedisHost,
					"submit",
					h.config.RateLimit.SubmitPerMinute,
					h.config.RateLimit.FailOpen,
					&post,
				),
			),
		)
	} else {
		l.Warn("not configured to have a submit rate limit")
	}

	submissionGroup.POST("/", h.SubmitCode)
	submissionGroup.GET("/:submission_id/", h.GetSubmission)
}
