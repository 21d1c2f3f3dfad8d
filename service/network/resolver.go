package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Resolver turns a user-supplied "host:port" node address into a dialable
// target.
type Resolver interface {
	Resolve(ctx context.Context, addr string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, addr string) (string, error)

// Resolve calls f(ctx, addr).
func (f ResolverFunc) Resolve(ctx context.Context, addr string) (string, error) {
	return f(ctx, addr)
}

// ResolveError reports a node address that could not be resolved. The
// previous node targets stay in effect when it is returned.
type ResolveError struct {
	Addr string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("unable to resolve node address %q: %v", e.Addr, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// NetResolver resolves host names through the system resolver and keeps
// the first address returned.
type NetResolver struct {
	Resolver *net.Resolver
}

// Resolve validates addr and returns "ip:port".
func (r NetResolver) Resolve(ctx context.Context, addr string) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	if host == "" {
		return "", fmt.Errorf("missing host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid port %q", portStr)
	}

	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(ip.String(), portStr), nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	hosts, err := res.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("lookup %s: no addresses", host)
	}
	return net.JoinHostPort(hosts[0], portStr), nil
}

// StaticResolver maps addresses from a fixed table. Addresses missing from
// the table fail to resolve.
type StaticResolver map[string]string

// Resolve looks addr up in the table.
func (r StaticResolver) Resolve(_ context.Context, addr string) (string, error) {
	target, ok := r[addr]
	if !ok {
		return "", fmt.Errorf("unknown host %q", addr)
	}
	return target, nil
}
