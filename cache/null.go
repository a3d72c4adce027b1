package cache

import (
	"context"
	"time"
)

// NullEngine stores nothing. Every lookup misses.
type NullEngine struct{}

func (NullEngine) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NullEngine) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NullEngine) Has(context.Context, string) (bool, error)                { return false, nil }
func (NullEngine) Delete(context.Context, string) error                     { return nil }
func (NullEngine) Clear(context.Context) error                              { return nil }
func (NullEngine) Keys(context.Context) ([]string, error)                   { return nil, nil }
func (NullEngine) Close() error                                             { return nil }

var _ Engine = NullEngine{}
