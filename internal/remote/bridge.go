// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package remote

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/gyrostat/pkg/gx3"
)

// bridgePoll is the device read timeout while bridging; it bounds how
// long the bridge takes to notice cancellation.
const bridgePoll = 50 * time.Millisecond

// Bridge copies bytes between a websocket client and a device port until
// either side fails, the client closes, or ctx ends. Each chunk read from
// the device becomes one binary message. The caller keeps ownership of port.
func Bridge(ctx context.Context, conn *websocket.Conn, port gx3.Port) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := port.SetReadTimeout(bridgePoll); err != nil {
		return err
	}
	_ = port.ResetInputBuffer()

	errc := make(chan error, 2)

	// Device to client
	go func() {
		buf := make([]byte, 256)
		for ctx.Err() == nil {
			n, err := port.Read(buf)
			if err != nil {
				errc <- err
				return
			}
			if n == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				errc <- err
				return
			}
		}
		errc <- ctx.Err()
	}()

	// Client to device
	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			if _, err := port.Write(data); err != nil {
				errc <- err
				return
			}
		}
	}()

	err := <-errc
	cancel()
	_ = conn.Close()
	<-errc

	if errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}
