package netalloc

// DefaultCustomSupernet is used when a custom-mode network is created
// without an explicit IPv4Range.
const DefaultCustomSupernet = "10.0.0.0/8"
