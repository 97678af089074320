package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/florianilch/kokomemo/internal/credstore"
)

// RefreshPath is the endpoint exchanging a refresh token for a new pair.
const RefreshPath = "/user/login/token/refresh"

// renewKey is the only key used with the singleflight group: there is one
// credential pair, so there is one renewal slot.
const renewKey = "renew"

// Hooks let the session owner apply renewal outcomes atomically with its own state.
type Hooks struct {
	// Renewed persists a freshly issued pair. An error fails the renewal.
	// Defaults to saving the pair in the store.
	Renewed func(ctx context.Context, pair credstore.Pair) error

	// Expired tears the session down after a failed renewal.
	// Defaults to clearing the store.
	Expired func(ctx context.Context, cause error)
}

// TokenRequest is the body of login and refresh calls.
type TokenRequest struct {
	Token string `json:"token"`
}

// renewer collapses concurrent renewals into one network call.
type renewer struct {
	store   credstore.Store
	hooks   Hooks
	timeout time.Duration
	metrics *Metrics
	refresh func(ctx context.Context, refreshToken string) (credstore.Pair, error)

	group *singleflight.Group
}

// Renew joins the in-flight renewal or starts one. The slot is released before
// results are delivered, so a call made after this one settles starts afresh.
//
// The renewal itself runs detached from ctx and is bounded by the renewal
// timeout: a caller that gives up only stops waiting, it does not fail the
// renewal for everyone else.
func (r *renewer) Renew(ctx context.Context) (credstore.Pair, error) {
	ch := r.group.DoChan(renewKey, func() (any, error) {
		renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.run(renewCtx)
	})

	r.metrics.RenewalWaiters.Inc()
	defer r.metrics.RenewalWaiters.Dec()

	select {
	case res := <-ch:
		if res.Err != nil {
			return credstore.Pair{}, res.Err
		}
		return res.Val.(credstore.Pair), nil
	case <-ctx.Done():
		return credstore.Pair{}, ctx.Err()
	}
}

// run performs one renewal and applies its outcome through the hooks.
func (r *renewer) run(ctx context.Context) (credstore.Pair, error) {
	current, err := r.store.Load(ctx)
	if err != nil {
		return credstore.Pair{}, r.fail(ctx, fmt.Errorf("loading refresh token: %w", err))
	}

	pair, err := r.refresh(ctx, current.RefreshToken)
	if err != nil {
		return credstore.Pair{}, r.fail(ctx, err)
	}

	if err := r.hooks.Renewed(ctx, pair); err != nil {
		return credstore.Pair{}, r.fail(ctx, fmt.Errorf("persisting renewed credentials: %w", err))
	}

	r.metrics.Renewals.WithLabelValues("success").Inc()
	slog.InfoContext(ctx, "credentials renewed")
	return pair, nil
}

func (r *renewer) fail(ctx context.Context, cause error) error {
	r.metrics.Renewals.WithLabelValues("failure").Inc()
	slog.WarnContext(ctx, "credential renewal failed, ending session", "error", cause)
	r.hooks.Expired(ctx, cause)
	return sessionExpired(cause)
}

// refresh exchanges the refresh token for a new pair.
func (c *Client) refresh(ctx context.Context, refreshToken string) (credstore.Pair, error) {
	resp, err := c.SendUnauthenticated(ctx, http.MethodPost, RefreshPath, TokenRequest{Token: refreshToken})
	if err != nil {
		return credstore.Pair{}, err
	}
	return DecodePair(resp)
}

// DecodePair reads a credential pair from a login or refresh response.
func DecodePair(resp *Response) (credstore.Pair, error) {
	var pair credstore.Pair
	if err := resp.Decode(&pair); err != nil {
		return credstore.Pair{}, err
	}
	if err := pair.Validate(); err != nil {
		return credstore.Pair{}, fmt.Errorf("server issued credentials: %w", err)
	}
	return pair, nil
}
