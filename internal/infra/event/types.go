package event

import (
	"context"
	"errors"
)

type MessageHandler func(ctx context.Context, msg []byte, headers map[string]interface{}) error

// ErrPoisonMessage marks a delivery that can never succeed (undecodable body,
// unknown name). Consumers drop it instead of redelivering.
var ErrPoisonMessage = errors.New("poison message")

func IsPoison(err error) bool {
	return errors.Is(err, ErrPoisonMessage)
}

func headerString(headers map[string]interface{}, key string) string {
	v, ok := headers[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}
