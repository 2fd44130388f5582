// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package dispatch

import (
	"fmt"
	"time"

	"github.com/wso2/api-platform/gateway/ingestion-gateway/pkg/core"
)

// Sender writes one framed message to a client.
type Sender interface {
	Send(data []byte) error
}

type tcpSender struct{ c *TCPContext }

func (s tcpSender) Send(data []byte) error {
	_ = s.c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.c.Conn.Write(data)
	return err
}

type udpSender struct{ c *UDPContext }

func (s udpSender) Send(data []byte) error {
	_, err := s.c.Conn.WriteTo(data, s.c.Addr)
	return err
}

type wsSender struct{ c *WebSocketContext }

func (s wsSender) Send(data []byte) error {
	return s.c.WriteText(data)
}

// CreateSender picks the writer for the connection variant.
func CreateSender(connCtx ConnectionContext) (Sender, error) {
	switch c := connCtx.(type) {
	case *TCPContext:
		if c != nil && c.Conn != nil {
			return tcpSender{c}, nil
		}
	case *UDPContext:
		if c != nil && c.Conn != nil && c.Addr != nil {
			return udpSender{c}, nil
		}
	case *WebSocketContext:
		if c != nil && c.Conn != nil {
			return wsSender{c}, nil
		}
	}
	return nil, fmt.Errorf("%w: %T", core.ErrUnsupportedConnection, connCtx)
}
