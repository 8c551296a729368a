package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-sync/domain"
	"task-sync/subscription"
)

const keepAliveInterval = 25 * time.Second

// streamTasks keeps one live subscription open for the lifetime of the
// connection and sends the full task list after every change.
func streamTasks(deps Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "/api/tasks/stream")
		defer func() { metrics.Log(c.Response().Status, err) }()

		sess, _ := authenticate(c, deps.Auth, metrics)

		// Only the latest list matters; a slow client skips intermediate ones.
		updates := make(chan []domain.Task, 1)
		listener := func(tasks []domain.Task) {
			select {
			case <-updates:
			default:
			}
			updates <- tasks
		}

		ctx := c.Request().Context()
		m := subscription.New(deps.Tasks, sess, logger, subscription.WithListener(listener))
		w, actErr := m.Activate(ctx)
		switch {
		case errors.Is(actErr, domain.ErrNoIdentity):
			return c.String(http.StatusUnauthorized, actErr.Error())
		case actErr != nil:
			metrics.SetErrorStage("subscribe")
			return c.String(http.StatusInternalServerError, "failed to open task stream")
		}
		defer w.Stop()

		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		sent := 0
		for {
			select {
			case <-ctx.Done():
				metrics.Set("snapshots_sent", sent)
				return nil
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			case tasks := <-updates:
				data, err := sonic.Marshal(tasks)
				if err != nil {
					metrics.SetErrorStage("encode")
					return err
				}
				if err := writeEvent(c.Response(), data); err != nil {
					metrics.SetErrorStage("write")
					return err
				}
				flusher.Flush()
				sent++
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
