package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-sync/composer"
	"task-sync/domain"
	"task-sync/subscription"
	"task-sync/topics"
)

const (
	postTaskMaxSize = 64 << 10
	extractMaxSize  = 10 << 20
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if deps.Categories == nil {
		deps.Categories = domain.Categories()
	}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/api/tasks", getTasks(deps, logger))
	e.GET("/api/tasks/stream", streamTasks(deps, logger))
	e.POST("/api/tasks", postTask(deps, logger))
	e.DELETE("/api/tasks/:id", deleteTask(deps, logger))
	e.GET("/api/topics", getTopics(deps, logger))
	e.POST("/api/topics/:category/toggle", toggleTopic(deps, logger))
	e.POST("/api/extract", postExtract(deps, logger))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type createTaskRequest struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Category     string             `json:"category"`
	DueDate      *time.Time         `json:"dueDate"`
	ReminderDate *time.Time         `json:"reminderDate"`
	ImageText    []domain.TextBlock `json:"imageText"`
}

type createTaskResponse struct {
	ID      string    `json:"id"`
	DueDate time.Time `json:"dueDate"`
	Warning string    `json:"warning,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type toggleResponse struct {
	Category   domain.Category `json:"category"`
	Subscribed bool            `json:"subscribed"`
}

type extractResponse struct {
	Text string `json:"text"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// authenticate resolves the request session and records the auth timing.
func authenticate(c echo.Context, auth Authenticator, metrics *requestMetrics) (session, error) {
	start := time.Now()
	sess, err := newSession(c, auth)
	metrics.ObserveAuth(time.Since(start))
	if err != nil {
		metrics.SetErrorStage("auth")
	}
	return sess, err
}

func getTasks(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/tasks")
		defer func() { metrics.Log(c.Response().Status, err) }()

		sess, authErr := authenticate(c, deps.Auth, metrics)
		if authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		start := time.Now()
		ents, fetchErr := deps.Tasks.FetchTasks(c.Request().Context(), sess.email())
		metrics.ObserveCall(time.Since(start))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(fetchErr).WithField("owner", sess.email()).Error("fetch tasks")
			return c.String(http.StatusInternalServerError, "failed to load tasks")
		}

		tasks := make([]domain.Task, 0, len(ents))
		for _, ent := range ents {
			t, normErr := ent.Normalize()
			if normErr != nil {
				logger.WithError(normErr).WithFields(log.Fields{"owner": sess.email(), "task": t.ID}).Warn("task has malformed dates")
			}
			tasks = append(tasks, t)
		}
		metrics.Set("tasks_returned", len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func postTask(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/tasks:create")
		defer func() { metrics.Log(c.Response().Status, err) }()

		// A bad token yields a signed out session; the composer refuses to
		// submit without an identity after validating the form.
		sess, _ := authenticate(c, deps.Auth, metrics)

		var req createTaskRequest
		dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, postTaskMaxSize))
		if decErr := dec.Decode(&req); decErr != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}

		form := composer.New(deps.Tasks, sess, deps.Categories, logger)
		form.SetName(req.Name)
		form.SetDescription(req.Description)
		if req.Description == "" && len(req.ImageText) > 0 {
			form.SetDescription(composer.JoinBlocks(req.ImageText))
		}
		if req.Category != "" {
			if catErr := form.SetCategory(domain.Category(req.Category)); catErr != nil {
				metrics.SetErrorStage("validate")
				return c.JSON(http.StatusBadRequest, fieldError{Field: "category", Message: catErr.Error()})
			}
		}
		if req.DueDate != nil {
			form.SetDueDate(*req.DueDate)
		}
		if req.ReminderDate != nil {
			form.SetReminderDate(*req.ReminderDate)
		}
		draft := form.Draft()

		ctx := c.Request().Context()
		idemKey := c.Request().Header.Get(idempotencyHeader)
		dedupe := deps.Deduper != nil && idemKey != "" && sess.ident != nil
		if dedupe {
			claimed, prev, claimErr := deps.Deduper.Claim(ctx, sess.email(), idemKey)
			switch {
			case claimErr != nil:
				metrics.SetErrorStage("idempotency")
				logger.WithError(claimErr).WithField("owner", sess.email()).Error("claim idempotency key")
				return c.String(http.StatusInternalServerError, "failed to create task")
			case !claimed && prev != "":
				metrics.Set("duplicate", true)
				var resp createTaskResponse
				if decErr := sonic.UnmarshalString(prev, &resp); decErr != nil {
					logger.WithError(decErr).WithField("owner", sess.email()).Warn("unreadable idempotency result")
					resp = createTaskResponse{ID: prev}
				}
				return c.JSON(http.StatusAccepted, resp)
			case !claimed:
				metrics.SetErrorStage("idempotency")
				return c.String(http.StatusConflict, "request already in progress")
			}
		}

		start := time.Now()
		id, submitErr := form.Submit(ctx)
		metrics.ObserveCall(time.Since(start))
		resp := createTaskResponse{ID: id, DueDate: draft.DueDate, Warning: draft.DueDateWarning}
		if dedupe {
			var dedupeErr error
			if submitErr != nil {
				dedupeErr = deps.Deduper.Release(ctx, sess.email(), idemKey)
			} else {
				var result string
				if result, dedupeErr = sonic.MarshalString(resp); dedupeErr == nil {
					dedupeErr = deps.Deduper.Complete(ctx, sess.email(), idemKey, result)
				}
			}
			if dedupeErr != nil {
				logger.WithError(dedupeErr).WithField("owner", sess.email()).Warn("update idempotency key")
			}
		}
		var verr *domain.ValidationError
		switch {
		case errors.As(submitErr, &verr):
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, fieldError{Field: verr.Field, Message: verr.Message})
		case errors.Is(submitErr, domain.ErrNoIdentity):
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, submitErr.Error())
		case submitErr != nil:
			metrics.SetErrorStage("storage")
			return c.String(http.StatusInternalServerError, "failed to create task")
		}

		metrics.Set("task", id)
		return c.JSON(http.StatusAccepted, resp)
	}
}

func deleteTask(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/tasks:delete")
		defer func() { metrics.Log(c.Response().Status, err) }()

		sess, _ := authenticate(c, deps.Auth, metrics)
		id := c.Param("id")
		metrics.Set("task", id)

		m := subscription.New(deps.Tasks, sess, logger)
		start := time.Now()
		delErr := m.Delete(c.Request().Context(), id)
		metrics.ObserveCall(time.Since(start))
		switch {
		case errors.Is(delErr, domain.ErrNoIdentity):
			return c.String(http.StatusUnauthorized, delErr.Error())
		case delErr != nil:
			metrics.SetErrorStage("storage")
			return c.String(http.StatusInternalServerError, "failed to delete task")
		}
		return c.NoContent(http.StatusAccepted)
	}
}

// loadTopics authenticates the request and loads the topic preferences of
// the addressed installation.
func loadTopics(c echo.Context, deps Deps, logger *log.Logger, metrics *requestMetrics) (*topics.Store, error) {
	sess, authErr := authenticate(c, deps.Auth, metrics)
	if authErr != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, authErr.Error())
	}
	ctx := c.Request().Context()
	inst, explicit, instErr := installationID(c, sess)
	if instErr != nil {
		metrics.SetErrorStage("auth")
		return nil, echo.NewHTTPError(http.StatusForbidden, instErr.Error())
	}
	metrics.Set("installation", inst)
	if explicit {
		owned, claimErr := deps.Topics.Claim(ctx, sess.email(), inst)
		if claimErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(claimErr).WithField("installation", inst).Error("claim installation")
			return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load topic subscriptions")
		}
		if !owned {
			metrics.SetErrorStage("auth")
			logger.WithFields(log.Fields{"installation": inst, "owner": sess.email()}).Warn("installation owned by another user")
			return nil, echo.NewHTTPError(http.StatusForbidden, errForeignInstallation.Error())
		}
	}
	store, err := topics.Load(ctx, deps.Topics.KV(sess.email(), inst), deps.Topics.Registrar(inst), deps.Categories,
		logger.WithField("installation", inst))
	if err != nil {
		metrics.SetErrorStage("storage")
		logger.WithError(err).WithField("installation", inst).Error("load topic subscriptions")
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load topic subscriptions")
	}
	return store, nil
}

func getTopics(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/topics")
		defer func() { metrics.Log(c.Response().Status, err) }()

		store, err := loadTopics(c, deps, logger, metrics)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, store.State())
	}
}

func toggleTopic(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/topics:toggle")
		defer func() { metrics.Log(c.Response().Status, err) }()

		category, parseErr := domain.ParseCategory(c.Param("category"))
		if parseErr != nil {
			metrics.SetErrorStage("validate")
			return c.JSON(http.StatusBadRequest, fieldError{Field: "category", Message: parseErr.Error()})
		}
		metrics.Set("category", category)

		store, err := loadTopics(c, deps, logger, metrics)
		if err != nil {
			return err
		}
		start := time.Now()
		on, toggleErr := store.Toggle(c.Request().Context(), category)
		metrics.ObserveCall(time.Since(start))
		if toggleErr != nil {
			metrics.SetErrorStage("storage")
			logger.WithError(toggleErr).WithField("category", category).Error("toggle topic subscription")
			return c.String(http.StatusInternalServerError, "failed to save topic subscription")
		}
		return c.JSON(http.StatusOK, toggleResponse{Category: category, Subscribed: on})
	}
}

func postExtract(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/extract")
		defer func() { metrics.Log(c.Response().Status, err) }()

		sess, authErr := authenticate(c, deps.Auth, metrics)
		if authErr != nil {
			return c.String(http.StatusUnauthorized, authErr.Error())
		}
		if deps.Extractor == nil {
			metrics.SetErrorStage("config")
			return c.String(http.StatusServiceUnavailable, "text extraction not configured")
		}

		image, readErr := io.ReadAll(io.LimitReader(c.Request().Body, extractMaxSize))
		if readErr != nil || len(image) == 0 {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid image")
		}
		metrics.Set("image_bytes", len(image))

		form := composer.New(deps.Tasks, sess, deps.Categories, logger)
		start := time.Now()
		ok := form.PrefillDescription(c.Request().Context(), deps.Extractor, image)
		metrics.ObserveCall(time.Since(start))
		if !ok {
			metrics.SetErrorStage("extract")
			return c.String(http.StatusUnprocessableEntity, "text extraction failed")
		}
		return c.JSON(http.StatusOK, extractResponse{Text: form.Draft().Description})
	}
}
