package mqtt

import (
	"fmt"

	"github.com/golang-io/requests"

	"github.com/sauronmq/broker/internal/crypt"
	"github.com/sauronmq/broker/packet"
)

// Listen describes one transport endpoint a Server or Client binds to.
type Listen struct {
	URL      string
	CertFile string
	KeyFile  string
}

// Options configures a client created with New.
type Options struct {
	URL           string
	ClientID      string
	Version       byte
	Username      string
	Password      string
	Subscriptions []packet.Subscription
	Cipher        *crypt.Cipher
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:      "mqtt://127.0.0.1:1883",
		ClientID: "mqtt-" + requests.GenId(),
		Version:  packet.VERSION311,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

func Credentials(username, password string) Option {
	return func(o *Options) {
		o.Username, o.Password = username, password
	}
}

func Subscription(subscription ...packet.Subscription) Option {
	return func(o *Options) {
		o.Subscriptions = append(o.Subscriptions, subscription...)
	}
}

// EncryptionKey enables the optional per-packet AES-256-GCM transform
// on the client's connection; key must be exactly 32 bytes and must
// match the broker's configured key.
func EncryptionKey(key []byte) Option {
	return func(o *Options) {
		cipher, err := crypt.New(key)
		if err != nil {
			panic(err)
		}
		o.Cipher = cipher
	}
}

func Version[T ~string | ~byte](version T) Option {
	return func(o *Options) {
		switch v := any(version).(type) {
		case byte:
			o.Version = v
		case string:
			switch v {
			case "3.1.1":
				o.Version = packet.VERSION311
			default:
				panic(fmt.Errorf("version = %s not support", v))
			}
		}
	}
}
