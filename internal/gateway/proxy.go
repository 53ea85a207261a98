// Исходящий прокси для MTProto-подключений: SOCKS5 через golang.org/x/net/proxy.
// Типы socks4/http в конфигурации зарезервированы, но транспортом пока не поддержаны.
package gateway

import (
	"context"
	"fmt"
	"net"

	"github.com/SWORDIntel/spectra/internal/infra/config"

	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"
)

// proxyResolver собирает dcs.Resolver, ведущий все подключения через настроенный прокси.
func proxyResolver(p config.ProxyConfig) (dcs.Resolver, error) {
	if p.Type != "socks5" {
		return nil, fmt.Errorf("gateway: proxy type %q is not supported (use socks5)", p.Type)
	}

	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("%s:%d", p.Host, p.Port), auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("gateway: build socks5 dialer: %w", err)
	}

	dialFunc := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
	return dcs.Plain(dcs.PlainOptions{Dial: dialFunc}), nil
}
