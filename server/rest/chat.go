package rest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"umrah_portal/server/chat/domain"
)

// MaxImageEdge is the longest side an uploaded image keeps; larger images
// are scaled down before they leave the client.
const MaxImageEdge = 1600

type ChatClient struct {
	*Client
}

func NewChatClient(c *Client) *ChatClient {
	return &ChatClient{Client: c}
}

func (c *ChatClient) ListChats(ctx context.Context, token string, page int) Result[Page[domain.Chat]] {
	req := call{method: http.MethodGet, path: "/chats", query: pageQuery(page), token: token}
	return result[Page[domain.Chat]](ctx, c.Client, req)
}

func (c *ChatClient) CreateChat(ctx context.Context, token string, in domain.CreateChatRequest) Result[domain.Chat] {
	return result[domain.Chat](ctx, c.Client, jsonCall(http.MethodPost, "/chats", token, in))
}

func (c *ChatClient) Messages(ctx context.Context, token, chatID string, page int) Result[Page[domain.Message]] {
	req := call{method: http.MethodGet, path: "/chats/" + escape(chatID) + "/messages", query: pageQuery(page), token: token}
	return result[Page[domain.Message]](ctx, c.Client, req)
}

func (c *ChatClient) SendMessage(ctx context.Context, token, chatID string, in domain.SendMessageRequest) Result[domain.Message] {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	return result[domain.Message](ctx, c.Client, jsonCall(http.MethodPost, "/chats/"+escape(chatID)+"/messages", token, in))
}

func (c *ChatClient) MarkRead(ctx context.Context, token, chatID string) Result[Empty] {
	return result[Empty](ctx, c.Client, call{method: http.MethodPost, path: "/chats/" + escape(chatID) + "/read", token: token})
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (c *ChatClient) SendTyping(ctx context.Context, token, chatID string, typing bool) Result[Empty] {
	return result[Empty](ctx, c.Client, jsonCall(http.MethodPost, "/chats/"+escape(chatID)+"/typing", token, typingRequest{IsTyping: typing}))
}

type participantsRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"required,min=1,dive,required"`
}

func (c *ChatClient) AddParticipants(ctx context.Context, token, chatID string, userIDs []string) Result[domain.Chat] {
	return result[domain.Chat](ctx, c.Client, jsonCall(http.MethodPost, "/chats/"+escape(chatID)+"/participants", token, participantsRequest{ParticipantIDs: userIDs}))
}

func (c *ChatClient) UnreadCount(ctx context.Context, token string) Result[UnreadCount] {
	return result[UnreadCount](ctx, c.Client, call{method: http.MethodGet, path: "/chat/unread-count", token: token})
}

func (c *ChatClient) SearchMessages(ctx context.Context, token, query string, page int) Result[Page[domain.Message]] {
	q := pageQuery(page)
	q.Set("q", strings.TrimSpace(query))
	return result[Page[domain.Message]](ctx, c.Client, call{method: http.MethodGet, path: "/chat/search/messages", query: q, token: token})
}

// Upload sends a file attachment to the chat. Images wider or taller than
// MaxImageEdge are downscaled first.
func (c *ChatClient) Upload(ctx context.Context, token, chatID, fileName string, content []byte, caption string) Result[domain.Message] {
	if len(content) == 0 {
		return Result[domain.Message]{Message: c.message(msgInvalidRequest)}
	}
	content, contentType := prepareAttachment(fileName, content)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(fileName)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err == nil {
		_, err = part.Write(content)
	}
	if err == nil && caption != "" {
		err = w.WriteField("content", caption)
	}
	if err == nil {
		err = w.WriteField("type", string(attachmentType(contentType)))
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return Result[domain.Message]{Message: c.message(msgInvalidRequest)}
	}

	req := call{
		method: http.MethodPost,
		path:   "/chats/" + escape(chatID) + "/upload",
		token:  token,
		raw:    body.Bytes(),
		ctype:  w.FormDataContentType(),
	}
	return result[domain.Message](ctx, c.Client, req)
}

func prepareAttachment(fileName string, content []byte) ([]byte, string) {
	contentType := http.DetectContentType(content)
	if !strings.HasPrefix(contentType, "image/") {
		return content, contentType
	}
	format, err := imaging.FormatFromFilename(fileName)
	if err != nil {
		return content, contentType
	}
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return content, contentType
	}
	scaled, ok := downscale(img, MaxImageEdge)
	if !ok {
		return content, contentType
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, scaled, format, imaging.JPEGQuality(85)); err != nil {
		return content, contentType
	}
	return buf.Bytes(), formatContentType(format)
}

// formatContentType names the encoding imaging.Encode produced for format.
func formatContentType(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.BMP:
		return "image/bmp"
	case imaging.TIFF:
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

func downscale(img image.Image, maxEdge int) (image.Image, bool) {
	b := img.Bounds()
	if b.Dx() <= maxEdge && b.Dy() <= maxEdge {
		return img, false
	}
	return imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos), true
}

func attachmentType(contentType string) domain.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.MessageTypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return domain.MessageTypeAudio
	default:
		return domain.MessageTypeFile
	}
}

const defaultBroadcastAuthPath = "/broadcasting/auth"

// ChannelAuth is the signature returned by the broadcasting auth endpoint.
type ChannelAuth struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// AuthorizeChannel asks the API to sign a private or presence channel
// subscription for socketID.
func (c *Client) AuthorizeChannel(ctx context.Context, token, socketID, channel string) (ChannelAuth, error) {
	form := url.Values{"socket_id": {socketID}, "channel_name": {channel}}
	req := call{
		method: http.MethodPost,
		path:   c.authPath,
		token:  token,
		raw:    []byte(form.Encode()),
		ctype:  "application/x-www-form-urlencoded",
	}
	auth, apiErr := do[ChannelAuth](ctx, c, req)
	if apiErr != nil {
		return ChannelAuth{}, apiErr
	}
	if auth.Auth == "" {
		return ChannelAuth{}, fmt.Errorf("channel %s authorization returned no signature", channel)
	}
	return auth, nil
}
