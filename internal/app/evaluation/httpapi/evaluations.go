package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"geolink.local/gee"
	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/app/evaluation/report"
	"geolink.local/internal/app/georoute/repo"
	"geolink.local/internal/platform/auth"
)

// LinkGetter 用来确认链接存在并取归属账号，生产上是 repo.LinksRepo。
type LinkGetter interface {
	GetLink(ctx context.Context, id string) (*repo.Link, error)
}

// StatusLister 读取每个目的地最新的结论，生产上是 report.StatusRepo。
type StatusLister interface {
	ListForLink(ctx context.Context, linkID string) ([]report.DestinationStatus, error)
}

type TriggerRequest struct {
	LinkID         string `json:"link_id"`
	DestinationURL string `json:"destination_url"`
	AccountID      string `json:"account_id"`
}

// loadOwnedLink 链接不存在和不属于该账号都返回 404，不暴露别人的链接。
func loadOwnedLink(ctx *gee.Context, links LinkGetter, linkID, accountID string) (*repo.Link, bool) {
	link, err := links.GetLink(ctx.Req.Context(), linkID)
	if err != nil {
		if errors.Is(err, repo.ErrLinkNotFound) {
			ctx.AbortWithError(http.StatusNotFound, "link not found")
			return nil, false
		}
		slog.Error("evaluation: load link failed", "link_id", linkID, "err", err)
		ctx.AbortWithError(http.StatusServiceUnavailable, "link lookup failed")
		return nil, false
	}
	if link.AccountID != accountID {
		ctx.AbortWithError(http.StatusNotFound, "link not found")
		return nil, false
	}
	return link, true
}

// NewTriggerHandler POST /api/v1/evaluations：登记一次评估并立即返回 202，不等待探测结果。
// destination_url 必须是该链接配置过的目的地。
func NewTriggerHandler(svc *evaluation.Service, links LinkGetter) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "missing identity")
			return
		}

		var req TriggerRequest
		if err := ctx.BindJSON(&req); err != nil {
			return
		}
		p := evaluation.Params{LinkID: req.LinkID, DestinationURL: req.DestinationURL, AccountID: req.AccountID}
		if err := p.Validate(); err != nil {
			ctx.AbortWithError(http.StatusBadRequest, err.Error())
			return
		}
		if !id.CanActFor(p.AccountID) {
			ctx.AbortWithError(http.StatusForbidden, "forbidden")
			return
		}
		link, ok := loadOwnedLink(ctx, links, p.LinkID, p.AccountID)
		if !ok {
			return
		}
		if !link.HasDestination(p.DestinationURL) {
			ctx.AbortWithError(http.StatusBadRequest, "destination_url is not a destination of this link")
			return
		}

		ticket, err := svc.Trigger(ctx.Req.Context(), p)
		if err != nil {
			if errors.Is(err, evaluation.ErrInvalidParams) {
				ctx.AbortWithError(http.StatusBadRequest, err.Error())
				return
			}
			ctx.AbortWithError(http.StatusServiceUnavailable, "evaluation backend unavailable")
			return
		}
		ctx.JSON(http.StatusAccepted, ticket)
	}
}

// NewStatusHandler GET /api/v1/evaluations/status?link_id=&destination_url=&account_id=
func NewStatusHandler(svc *evaluation.Service) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "missing identity")
			return
		}

		p := evaluation.Params{
			LinkID:         ctx.Query("link_id"),
			DestinationURL: ctx.Query("destination_url"),
			AccountID:      ctx.Query("account_id"),
		}
		if err := p.Validate(); err != nil {
			ctx.AbortWithError(http.StatusBadRequest, err.Error())
			return
		}
		if !id.CanActFor(p.AccountID) {
			ctx.AbortWithError(http.StatusForbidden, "forbidden")
			return
		}

		st, err := svc.Status(ctx.Req.Context(), p)
		if err != nil {
			if errors.Is(err, evaluation.ErrRunNotFound) {
				ctx.AbortWithError(http.StatusNotFound, "no evaluation for this destination")
				return
			}
			slog.Error("evaluation: describe failed", "link_id", p.LinkID, "err", err)
			ctx.AbortWithError(http.StatusServiceUnavailable, "evaluation backend unavailable")
			return
		}
		ctx.JSON(http.StatusOK, st)
	}
}

// NewDestinationStatusHandler GET /api/v1/links/:id/destination-status：每个目的地最新的结论。
func NewDestinationStatusHandler(links LinkGetter, statuses StatusLister) gee.HandlerFunc {
	return func(ctx *gee.Context) {
		id, ok := auth.GetIdentity(ctx.Req.Context())
		if !ok {
			ctx.AbortWithError(http.StatusUnauthorized, "missing identity")
			return
		}

		linkID := ctx.Param("id")
		link, err := links.GetLink(ctx.Req.Context(), linkID)
		if err != nil {
			if errors.Is(err, repo.ErrLinkNotFound) {
				ctx.AbortWithError(http.StatusNotFound, "link not found")
				return
			}
			ctx.AbortWithError(http.StatusServiceUnavailable, "link lookup failed")
			return
		}
		if !id.CanActFor(link.AccountID) {
			ctx.AbortWithError(http.StatusNotFound, "link not found")
			return
		}

		list, err := statuses.ListForLink(ctx.Req.Context(), linkID)
		if err != nil {
			slog.Error("evaluation: list status failed", "link_id", linkID, "err", err)
			ctx.AbortWithError(http.StatusServiceUnavailable, "status lookup failed")
			return
		}
		ctx.JSON(http.StatusOK, map[string]any{
			"link_id":      linkID,
			"destinations": list,
		})
	}
}
