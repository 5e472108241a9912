package store

// Option configures Links.
type Option func(*linkOptions)

type linkOptions struct {
	DataKey string
}

// WithDataKey encrypts stored authorization codes with the provided key material.
func WithDataKey(key string) Option {
	return func(opts *linkOptions) {
		opts.DataKey = key
	}
}
