package ioloop

// ErrorKind classifies a failed submission so the guest-facing error
// object can carry the right code.
type ErrorKind uint8

const (
	ErrorKindGeneric ErrorKind = iota
	ErrorKindNotFound
	ErrorKindAlreadyExists
	ErrorKindPermission
)

// ResponseKind discriminates the Response sum type, the same plain
// discriminant-field convention as internal/jsslab.Kind.
type ResponseKind uint8

const (
	KindEvent ResponseKind = iota
	KindIps
	KindMetadata
	KindFileRef
	KindRead
	KindSuccess
	KindError
)

// Readiness is the edge-triggered bitmask the poller reports per token.
type Readiness struct {
	Readable bool
	Writable bool
	Hup      bool
	Error    bool
}

// Metadata is the subset of file metadata the fs worker reports back.
type Metadata struct {
	Size  int64
	IsDir bool
}

// Response is one completion delivered on the loop's channel. Only the
// fields relevant to Kind are populated. Every submission produces
// exactly one Response carrying that submission's ID.
type Response struct {
	Kind ResponseKind
	ID   int64

	// KindEvent
	Token     int
	Readiness Readiness

	// KindIps
	IPs []([4]byte)

	// KindMetadata
	Meta Metadata

	// KindFileRef
	FD int

	// KindRead
	Buf []byte

	// KindError
	Msg   string
	EKind ErrorKind
}
