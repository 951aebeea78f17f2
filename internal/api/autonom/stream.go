package autonom

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const streamDone = "[DONE]"

// StreamTriggerPlan starts planning a meal and streams the agent's progress.
// The channel closes after the [DONE] sentinel, at end of body or when ctx is
// cancelled; cancelling releases the connection.
func (c *Client) StreamTriggerPlan(ctx context.Context, userID, mealType string, opts *TriggerOptions) (<-chan StreamResult, error) {
	return c.stream(ctx, triggerPath(userID, mealType, true, opts), nil)
}

// StreamResume sends the user's answer and streams the agent's progress.
func (c *Client) StreamResume(ctx context.Context, sessionID, choice string) (<-chan StreamResult, error) {
	return c.stream(ctx, resumePath(sessionID, true), ResumeRequest{Choice: choice})
}

func (c *Client) stream(ctx context.Context, path string, in any) (<-chan StreamResult, error) {
	resp, err := c.send(ctx, http.MethodPost, path, in, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, parseError(resp.StatusCode, respBody)
	}

	out := make(chan StreamResult)
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		// The backend may answer a streaming request with a single JSON result.
		go singleResult(ctx, resp.Body, out)
		return out, nil
	}
	go streamReader(ctx, resp.Body, out)
	return out, nil
}

func send(ctx context.Context, out chan<- StreamResult, r StreamResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func streamReader(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == streamDone {
			return
		}

		ev, err := parseEvent([]byte(data))
		if err != nil {
			// Non-JSON frames are progress chatter; surface them as text.
			ev = &StreamEvent{Type: EventTextResponse, Text: data}
		}
		if !send(ctx, out, StreamResult{Event: ev}) {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, out, StreamResult{Err: fmt.Errorf("stream read error: %w", err)})
	}
}

func singleResult(ctx context.Context, body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		send(ctx, out, StreamResult{Err: fmt.Errorf("failed to read response: %w", err)})
		return
	}
	ev, err := parseEvent(data)
	if err != nil {
		send(ctx, out, StreamResult{Err: fmt.Errorf("failed to unmarshal response: %w", err)})
		return
	}
	send(ctx, out, StreamResult{Event: ev})
}

func parseEvent(data []byte) (*StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return &ev, nil
}
