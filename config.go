package kvtemplate

import (
	"log/slog"

	"github.com/pior/kvtemplate/codec"
	"github.com/pior/kvtemplate/driver"
	"github.com/pior/kvtemplate/txsync"
)

// Config holds the configuration of a Template.
type Config struct {
	// Factory produces the store connections. Required.
	Factory driver.Factory

	// Codecs per role. A nil role falls back to DefaultCodec; when that is
	// nil too, the role passes []byte through unchanged.
	KeyCodec       codec.Codec
	ValueCodec     codec.Codec
	HashKeyCodec   codec.Codec
	HashValueCodec codec.Codec

	// StringCodec is used for string helpers. Default: codec.String.
	StringCodec codec.Codec

	// DefaultCodec fills every nil role codec. Default: nil (raw bytes).
	DefaultCodec codec.Codec

	// EnableTransactionSupport enlists connections in the active unit of
	// work of the context (see txsync.Begin).
	EnableTransactionSupport bool

	// ExposeConnection hands the raw connection to callbacks. By default
	// callbacks get a wrapper whose Close is a no-op.
	ExposeConnection bool

	// ReleasePolicy applies to bound connections when their last reference
	// is released. Default: txsync.ReleaseClose.
	ReleasePolicy txsync.ReleasePolicy

	// Logger for debug records. Default: discard.
	Logger *slog.Logger
}
