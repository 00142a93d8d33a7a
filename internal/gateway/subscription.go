package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// graphql-ws (subscriptions-transport-ws) message types.
const (
	subprotocol = "graphql-ws"

	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error"
	msgKeepAlive       = "ka"
	msgStart           = "start"
	msgData            = "data"
	msgError           = "error"
	msgComplete        = "complete"
	msgStop            = "stop"
	msgTerminate       = "connection_terminate"

	subscriptionID = "1"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscribe starts op and, for every result pushed by the server, decodes
// it into out and calls onData. It blocks until the server completes the
// subscription, ctx is cancelled (both return nil), onData returns an error,
// or the connection fails.
func (c *Client) Subscribe(ctx context.Context, op queries.Operation, vars any, out any, onData func() error) error {
	if op.Kind != queries.Subscription {
		return fmt.Errorf("%s is a %s, not a subscription", op.Name, op.Kind)
	}

	headers, err := c.headers(ctx)
	if err != nil {
		return gatewayError(op.Name, CodeUnauthenticated, "could not obtain auth token", err)
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: c.timeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return gatewayError(op.Name, CodeNetwork, "websocket dial failed", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	// Closing the connection unblocks any pending read, including the wait
	// for connection_ack.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = write(wsMessage{ID: subscriptionID, Type: msgStop})
			_ = write(wsMessage{Type: msgTerminate})
			_ = conn.Close()
		case <-done:
		}
	}()

	initPayload, err := json.Marshal(map[string]any{"headers": headers})
	if err != nil {
		return fmt.Errorf("marshal connection payload: %w", err)
	}
	if err := write(wsMessage{Type: msgConnectionInit, Payload: initPayload}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return gatewayError(op.Name, CodeNetwork, "connection_init failed", err)
	}
	if err := awaitAck(op.Name, conn); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	startPayload, err := json.Marshal(request{Query: op.Document, Variables: vars, OperationName: op.Name})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op.Name, err)
	}
	if err := write(wsMessage{ID: subscriptionID, Type: msgStart, Payload: startPayload}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return gatewayError(op.Name, CodeNetwork, "start failed", err)
	}

	entry := c.log.WithField("operation", op.Name)
	entry.Debug("graphql subscription started")

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return gatewayError(op.Name, CodeNetwork, "websocket read failed", err)
		}

		switch msg.Type {
		case msgKeepAlive, msgConnectionAck:
			continue
		case msgData:
			var payload response
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return gatewayError(op.Name, CodeInvalidResponse, "undecodable subscription payload", err)
			}
			if err := decodeData(op.Name, payload, out); err != nil {
				return err
			}
			if err := onData(); err != nil {
				return err
			}
		case msgError, msgConnectionError:
			return payloadError(op.Name, msg.Payload)
		case msgComplete:
			entry.Debug("graphql subscription completed")
			return nil
		default:
			entry.WithFields(logrus.Fields{"type": msg.Type}).Debug("ignoring unknown subscription message")
		}
	}
}

func awaitAck(operation string, conn *websocket.Conn) error {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return gatewayError(operation, CodeNetwork, "websocket read failed", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgKeepAlive:
			continue
		case msgConnectionError, msgError:
			return payloadError(operation, msg.Payload)
		default:
			return gatewayError(operation, CodeInvalidResponse, fmt.Sprintf("unexpected %q before connection_ack", msg.Type), nil)
		}
	}
}

// payloadError decodes an error payload, which servers send either as a
// single error object or as an array of them.
func payloadError(operation string, raw json.RawMessage) error {
	var many []GraphQLError
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return fromGraphQLErrors(operation, many)
	}
	var one GraphQLError
	if err := json.Unmarshal(raw, &one); err == nil && one.Message != "" {
		return fromGraphQLErrors(operation, []GraphQLError{one})
	}
	return gatewayError(operation, CodeInvalidResponse, "subscription failed: "+string(raw), nil)
}
