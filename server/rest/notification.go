package rest

import (
	"context"
	"net/http"

	"umrah_portal/server/notification/domain"
)

type NotificationClient struct {
	*Client
}

func NewNotificationClient(c *Client) *NotificationClient {
	return &NotificationClient{Client: c}
}

func (c *NotificationClient) List(ctx context.Context, token string, page int) Result[Page[domain.Notification]] {
	req := call{method: http.MethodGet, path: "/notifications", query: pageQuery(page), token: token}
	return result[Page[domain.Notification]](ctx, c.Client, req)
}

func (c *NotificationClient) UnreadCount(ctx context.Context, token string) Result[UnreadCount] {
	return result[UnreadCount](ctx, c.Client, call{method: http.MethodGet, path: "/notifications/unread-count", token: token})
}

func (c *NotificationClient) MarkRead(ctx context.Context, token, id string) Result[Empty] {
	return result[Empty](ctx, c.Client, call{method: http.MethodPost, path: "/notifications/" + escape(id) + "/read", token: token})
}

func (c *NotificationClient) MarkAllRead(ctx context.Context, token string) Result[Empty] {
	return result[Empty](ctx, c.Client, call{method: http.MethodPost, path: "/notifications/mark-all-read", token: token})
}

func (c *NotificationClient) Delete(ctx context.Context, token, id string) Result[Empty] {
	return result[Empty](ctx, c.Client, call{method: http.MethodDelete, path: "/notifications/" + escape(id), token: token})
}
