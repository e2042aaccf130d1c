package telemetry

import (
	"errors"

	"github.com/vincent-petithory/dataurl"
)

var ErrInvalidDataURI = errors.New("telemetry: invalid data uri")

// DataURI is a decoded RFC 2397 data URI.
type DataURI struct {
	MediaType string
	Data      []byte
}

// DecodeDataURI parses data:[<mediatype>][;base64],<data>.
func DecodeDataURI(raw string) (DataURI, error) {
	du, err := dataurl.DecodeString(raw)
	if err != nil {
		return DataURI{}, errors.Join(ErrInvalidDataURI, err)
	}
	return DataURI{MediaType: du.MediaType.ContentType(), Data: du.Data}, nil
}
