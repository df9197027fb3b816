package types

// UnixMilli is a unix timestamp at millisecond resolution.
type UnixMilli int64
