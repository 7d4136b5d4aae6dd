package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/messaging"
	metricsvc "github.com/trezcool/shule/services/metrics"
)

type messagingApi struct {
	svc      messaging.ServiceInterface
	validate *validator.Validate
}

func registerMessagingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc messaging.ServiceInterface, validate *validator.Validate) {
	api := messagingApi{
		svc:      svc,
		validate: validate,
	}

	mg := g.Group("/messages", jwt)

	mg.GET("", api.list)
	mg.POST("", api.send)
	mg.GET("/conversations", api.listConversations)
	mg.POST("/:id/read", api.markRead)
	mg.DELETE("/:id", api.destroy)
	mg.POST("/conversations/:partnerId/read", api.markConversationRead)
	mg.DELETE("/conversations/:partnerId", api.destroyConversation)
}

// Handlers

// list returns every message the caller can still see, oldest first.
// Polling clients hit this endpoint to refresh their local state.
func (api *messagingApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	msgs, err := api.svc.ListInvolving(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing messages")
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}

	metricsvc.SyncRefreshes.Inc()
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) send(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data messaging.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	if err := data.Validate(claims.Subject, api.validate); err != nil {
		return err
	}

	msg, err := api.svc.Send(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "sending message")
	}

	metricsvc.MessagesSent.Inc()
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) listConversations(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	convs, err := api.svc.Conversations(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing conversations")
	}
	if convs == nil {
		convs = []messaging.Conversation{}
	}
	return ctx.JSON(http.StatusOK, convs)
}

func (api *messagingApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err := api.svc.MarkRead(ctx.Request().Context(), claims.Subject, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking message read")
	}

	metricsvc.ReadReceipts.Inc()
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) markConversationRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err := api.svc.MarkConversationRead(ctx.Request().Context(), claims.Subject, ctx.Param("partnerId")); err != nil {
		return errors.Wrap(err, "marking conversation read")
	}

	metricsvc.ReadReceipts.Inc()
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) destroy(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	scope, err := messaging.ParseDeleteScope(ctx.QueryParam("scope"))
	if err != nil {
		return err
	}

	if err := api.svc.DeleteMessage(ctx.Request().Context(), claims.Subject, ctx.Param("id"), scope); err != nil {
		return errors.Wrap(err, "deleting message")
	}

	metricsvc.MessageDeletions.WithLabelValues(string(scope)).Inc()
	return ctx.NoContent(http.StatusNoContent)
}

func (api *messagingApi) destroyConversation(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	scope, err := messaging.ParseDeleteScope(ctx.QueryParam("scope"))
	if err != nil {
		return err
	}

	if err := api.svc.DeleteConversation(ctx.Request().Context(), claims.Subject, ctx.Param("partnerId"), scope); err != nil {
		return errors.Wrap(err, "deleting conversation")
	}

	metricsvc.MessageDeletions.WithLabelValues(string(scope)).Inc()
	return ctx.NoContent(http.StatusNoContent)
}
