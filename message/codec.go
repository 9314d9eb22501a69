package message

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/c360/scenesync/errors"
)

// Wire frame layout:
//
//	offset 0: 2-byte magic "SC"
//	offset 2: 1-byte message kind
//	offset 3: 1-byte direction flag (0 request, 1 response)
//	offset 4: 4-byte big-endian body length
//	offset 8: JSON body
//
// The frame header is fixed; everything protocol-version dependent lives in
// the NewConnection body so the header itself never needs to change.
const (
	headerSize = 8

	flagRequest  = 0
	flagResponse = 1
)

var magic = [2]byte{'S', 'C'}

// Encode serializes a message into a length-prefixed binary envelope.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Codec", "Encode", "nil message check")
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "Codec", "Encode", "marshal body")
	}

	flag := byte(flagResponse)
	if _, ok := m.(Request); ok {
		flag = flagRequest
	}

	frame := make([]byte, headerSize+len(body))
	frame[0] = magic[0]
	frame[1] = magic[1]
	frame[2] = byte(m.Kind())
	frame[3] = flag
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// Decode parses a binary envelope back into a typed message. Decoding is
// total: any structural violation yields a malformed-kind error and no
// partially filled message.
func Decode(frame []byte) (Message, error) {
	if len(frame) < headerSize {
		return nil, errors.Malformed(fmt.Sprintf("frame too short: %d bytes", len(frame)))
	}
	if frame[0] != magic[0] || frame[1] != magic[1] {
		return nil, errors.Malformed("bad frame magic")
	}

	kind := Kind(frame[2])
	if !kind.valid() {
		return nil, errors.Malformed(fmt.Sprintf("unknown message kind %d", frame[2]))
	}

	flag := frame[3]
	if flag != flagRequest && flag != flagResponse {
		return nil, errors.Malformed(fmt.Sprintf("unknown direction flag %d", flag))
	}

	bodyLen := binary.BigEndian.Uint32(frame[4:8])
	if int(bodyLen) != len(frame)-headerSize {
		return nil, errors.Malformed(fmt.Sprintf(
			"body length mismatch: header says %d, frame carries %d", bodyLen, len(frame)-headerSize))
	}

	m := newMessage(kind, flag == flagResponse)
	if err := json.Unmarshal(frame[headerSize:], m); err != nil {
		return nil, errors.Malformed("unmarshal body: " + err.Error())
	}
	return m, nil
}

// DecodeResponse parses a frame and requires it to be a response.
func DecodeResponse(frame []byte) (Response, error) {
	m, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	resp, ok := m.(Response)
	if !ok {
		return nil, errors.Malformed("frame is not a response")
	}
	return resp, nil
}

// DecodeRequest parses a frame and requires it to be a request.
func DecodeRequest(frame []byte) (Request, error) {
	m, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	req, ok := m.(Request)
	if !ok {
		return nil, errors.Malformed("frame is not a request")
	}
	return req, nil
}

// newMessage is the one construction site for the closed message set.
func newMessage(kind Kind, response bool) Message {
	if response {
		switch kind {
		case KindNewConnection:
			return &NewConnectionResponse{}
		case KindCloseConnection:
			return &CloseConnectionResponse{}
		case KindObjectDetails:
			return &ConnectionDetailsResponse{}
		case KindMonitoringConnectionDetails:
			return &MonitoringConnectionDetailsResponse{}
		case KindItemPropertiesChanged:
			return &GenericResponse{}
		}
	} else {
		switch kind {
		case KindNewConnection:
			return &NewConnection{}
		case KindCloseConnection:
			return &CloseConnection{}
		case KindObjectDetails:
			return &ObjectDetails{}
		case KindMonitoringConnectionDetails:
			return &MonitoringConnectionDetails{}
		case KindItemPropertiesChanged:
			return &ItemPropertiesChanged{}
		}
	}
	// Unreachable: kind.valid() was checked by Decode
	return nil
}
