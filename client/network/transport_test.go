package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTunnelURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "localhost", url: "ws://localhost:8888", want: false},
		{name: "loopback ip", url: "ws://127.0.0.1:8888", want: false},
		{name: "private lan ip", url: "ws://192.168.1.10:8888", want: false},
		{name: "public hostname", url: "wss://play.example.com", want: true},
		{name: "public ip", url: "ws://203.0.113.9:8888", want: true},
		{name: "garbage", url: "://not-a-url", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTunnelURL(tt.url))
		})
	}
}

func TestWSTransportSendRequiresConnection(t *testing.T) {
	transport := NewWSTransport(TransportCallbacks{})
	err := transport.Send(nil)
	assert.Error(t, err)
}
