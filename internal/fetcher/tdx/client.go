package tdx

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const headerSize = 16

// conn is one session with a quote server. Sessions are short-lived: the
// fetcher dials immediately before a request and closes on every exit path,
// so a fault inside one call can never leak a live connection into the next.
type conn struct {
	c       net.Conn
	timeout time.Duration
}

// dial connects to one host and performs the setup handshake.
func dial(ctx context.Context, addr string, timeout time.Duration) (*conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &conn{c: c, timeout: timeout}
	for _, cmd := range [][]byte{setupCmd1, setupCmd2, setupCmd3} {
		if _, err := s.roundTrip(cmd); err != nil {
			s.Close()
			return nil, fmt.Errorf("handshake: %w", err)
		}
	}
	return s, nil
}

func (s *conn) Close() error { return s.c.Close() }

// roundTrip writes one packet and reads back the body, inflating it when the
// header says it is compressed.
func (s *conn) roundTrip(pkg []byte) ([]byte, error) {
	if err := s.c.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}
	if _, err := s.c.Write(pkg); err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(s.c, header); err != nil {
		return nil, err
	}
	zipSize := binary.LittleEndian.Uint16(header[12:])
	rawSize := binary.LittleEndian.Uint16(header[14:])

	body := make([]byte, zipSize)
	if _, err := io.ReadFull(s.c, body); err != nil {
		return nil, err
	}
	if zipSize == rawSize {
		return body, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, int64(rawSize)+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}

// bars requests count daily bars for (market, code), newest last.
func (s *conn) bars(market uint16, code string, start, count uint16) ([]rawBar, error) {
	body, err := s.roundTrip(barsRequest(market, code, categoryDaily, start, count))
	if err != nil {
		return nil, err
	}
	return parseBars(body, categoryDaily)
}

// list requests one page of the market's security list.
func (s *conn) list(market, start uint16) ([]listEntry, error) {
	body, err := s.roundTrip(listRequest(market, start))
	if err != nil {
		return nil, err
	}
	return parseList(body)
}
