package controller

import (
	"context"
	"net/http"
	"time"
)

// HandleHealth pings every configured backend. Any failure turns the answer into a 503.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"pool": "ok"}
	status := http.StatusOK
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			return
		}
		checks[name] = "ok"
	}

	if c.App.StateDB != nil {
		record("postgres", c.App.StateDB.Health(ctx))
	}
	if c.App.RedisClient != nil {
		record("redis", c.App.RedisClient.Health(ctx))
	}
	if c.App.History != nil {
		record("clickhouse", c.App.History.Health(ctx))
	}

	writeJSON(w, status, checks)
}
