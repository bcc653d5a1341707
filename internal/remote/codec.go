package remote

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/labkit/instrumental/internal/paramset"
)

// DefaultPort is the TCP port servers listen on when none is given.
const DefaultPort = 28265

// MaxFrameSize bounds a frame payload.
const MaxFrameSize = 16 << 20

// headerSize is the 1-byte message id plus the 8-byte big-endian length.
const headerSize = 9

// opListInstruments is the only operation servers answer.
const opListInstruments = "list_instruments"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("remote: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("remote: CBOR decoder initialization failed: " + err.Error())
	}
}

type request struct {
	Op     string `cbor:"op"`
	Module string `cbor:"module,omitempty"`
}

type response struct {
	Instruments []wireParams `cbor:"instruments,omitempty"`
	Error       string       `cbor:"error,omitempty"`
}

// wireParams keeps key order, which a CBOR map would lose under
// deterministic encoding.
type wireParams struct {
	Pairs    []wirePair     `cbor:"pairs"`
	Settings map[string]any `cbor:"settings,omitempty"`
}

type wirePair struct {
	Key   string `cbor:"k"`
	Value any    `cbor:"v"`
}

func toWire(ps paramset.ParamSet) wireParams {
	w := wireParams{}
	for _, k := range ps.Keys() {
		v, _ := ps.Get(k)
		w.Pairs = append(w.Pairs, wirePair{Key: k, Value: v})
	}
	if s := ps.Settings(); len(s) > 0 {
		w.Settings = s
	}
	return w
}

func fromWire(w wireParams) (paramset.ParamSet, error) {
	kv := make([]any, 0, 2*len(w.Pairs))
	for _, p := range w.Pairs {
		kv = append(kv, p.Key, p.Value)
	}
	ps, err := paramset.Of(kv...)
	if err != nil {
		return paramset.ParamSet{}, err
	}
	if len(w.Settings) > 0 {
		ps = ps.WithSettings(w.Settings)
	}
	return ps, nil
}

// writeFrame writes one message: id, payload length, CBOR payload.
func writeFrame(w io.Writer, id byte, v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var header [headerSize]byte
	header[0] = id
	binary.BigEndian.PutUint64(header[1:], uint64(len(payload)))
	if _, err := w.Write(append(header[:], payload...)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readFrame reads one message into v and returns its id.
func readFrame(r io.Reader, v any) (byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint64(header[1:])
	if n > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, fmt.Errorf("reading frame payload: %w", err)
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return 0, fmt.Errorf("decoding frame: %w", err)
	}
	return header[0], nil
}
