package pagestore

// codec.go defines the message set and the wire codec contract.  The
// transport moves opaque framed blobs (io.go); the codec turns them into
// typed requests and responses.  The default binary codec below is what the
// dev simulator and the tests speak; a production deployment substitutes its
// own via WithCodec.
//
// © 2025 pagecache authors. MIT License.

import (
	"fmt"

	"github.com/Voskan/pagecache/internal/slab"
	"github.com/Voskan/pagecache/pkg/buftag"
)

// Request is a message sent to a page server.
type Request interface {
	requestMsg()
}

// Response is a message received from a page server.
type Response interface {
	responseMsg()
}

// GetPageRequest asks for the current content of one page.
type GetPageRequest struct {
	Tag buftag.Tag
}

// ExistsRequest asks whether a relation fork exists on the shard.
type ExistsRequest struct {
	Tag buftag.Tag
}

func (*GetPageRequest) requestMsg() {}
func (*ExistsRequest) requestMsg()  {}

// PageResponse carries one page image.
type PageResponse struct {
	Tag  buftag.Tag
	Page []byte
}

// ExistsResponse answers an ExistsRequest.
type ExistsResponse struct {
	Exists bool
}

// ErrorResponse reports a server-side failure for the preceding request.
type ErrorResponse struct {
	Message string
}

func (*PageResponse) responseMsg()   {}
func (*ExistsResponse) responseMsg() {}
func (*ErrorResponse) responseMsg()  {}

// Codec packs requests and unpacks responses, one framed blob per message.
type Codec interface {
	PackRequest(Request) ([]byte, error)
	UnpackResponse([]byte) (Response, error)
}

// Message type discriminators of the built-in codec.
const (
	msgGetPage  = 'P'
	msgExists   = 'E'
	msgPage     = 'p'
	msgExistsOK = 'e'
	msgError    = 'x'
)

// BinaryCodec is the built-in codec: a one-byte discriminator followed by
// fixed-layout little-endian fields.
type BinaryCodec struct{}

func (BinaryCodec) PackRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case *GetPageRequest:
		b := make([]byte, 1+buftag.EncodedLen)
		b[0] = msgGetPage
		r.Tag.Encode(b[1:])
		return b, nil
	case *ExistsRequest:
		b := make([]byte, 1+buftag.EncodedLen)
		b[0] = msgExists
		r.Tag.Encode(b[1:])
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown request type %T", ErrProtocol, req)
	}
}

func (BinaryCodec) UnpackResponse(b []byte) (Response, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProtocol)
	}
	switch b[0] {
	case msgPage:
		if len(b) != 1+buftag.EncodedLen+slab.PageSize {
			return nil, fmt.Errorf("%w: page response has %d bytes", ErrProtocol, len(b))
		}
		page := make([]byte, slab.PageSize)
		copy(page, b[1+buftag.EncodedLen:])
		return &PageResponse{Tag: buftag.DecodeTag(b[1:]), Page: page}, nil
	case msgExistsOK:
		if len(b) != 2 {
			return nil, fmt.Errorf("%w: exists response has %d bytes", ErrProtocol, len(b))
		}
		return &ExistsResponse{Exists: b[1] != 0}, nil
	case msgError:
		return &ErrorResponse{Message: string(b[1:])}, nil
	default:
		return nil, fmt.Errorf("%w: unknown response discriminator %q", ErrProtocol, b[0])
	}
}

// PackResponse is the server-side half of the built-in codec; the dev
// simulator uses it.
func (BinaryCodec) PackResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case *PageResponse:
		if len(r.Page) != slab.PageSize {
			return nil, fmt.Errorf("%w: page is %d bytes", ErrProtocol, len(r.Page))
		}
		b := make([]byte, 1+buftag.EncodedLen+slab.PageSize)
		b[0] = msgPage
		r.Tag.Encode(b[1:])
		copy(b[1+buftag.EncodedLen:], r.Page)
		return b, nil
	case *ExistsResponse:
		b := []byte{msgExistsOK, 0}
		if r.Exists {
			b[1] = 1
		}
		return b, nil
	case *ErrorResponse:
		return append([]byte{msgError}, r.Message...), nil
	default:
		return nil, fmt.Errorf("%w: unknown response type %T", ErrProtocol, resp)
	}
}

// UnpackRequest is the server-side half of the built-in codec.
func (BinaryCodec) UnpackRequest(b []byte) (Request, error) {
	if len(b) != 1+buftag.EncodedLen {
		return nil, fmt.Errorf("%w: request has %d bytes", ErrProtocol, len(b))
	}
	switch b[0] {
	case msgGetPage:
		return &GetPageRequest{Tag: buftag.DecodeTag(b[1:])}, nil
	case msgExists:
		return &ExistsRequest{Tag: buftag.DecodeTag(b[1:])}, nil
	default:
		return nil, fmt.Errorf("%w: unknown request discriminator %q", ErrProtocol, b[0])
	}
}
