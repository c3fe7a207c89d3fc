package stream

import (
	"strconv"
)

// Boundary separating multipart parts. It is fixed so existing clients keep
// parsing the stream.
const Boundary = "123456789000000000000987654321"

// Wire format of the MJPEG stream and the single-shot capture.
const (
	Header = "HTTP/1.1 200 OK\r\n" +
		"Access-Control-Allow-Origin: *\r\n" +
		"Content-Type: multipart/x-mixed-replace; boundary=" + Boundary + "\r\n"

	// BoundaryLine starts with CRLF, so after Header it also ends the header block.
	BoundaryLine = "\r\n--" + Boundary + "\r\n"

	// Preamble is written once when a consumer starts.
	Preamble = Header + BoundaryLine

	partHeaderPrefix = "Content-Type: image/jpeg\r\nContent-Length: "
	partHeaderSuffix = "\r\n\r\n"

	// JPEGHeader precedes the image of a single-shot capture.
	JPEGHeader = "HTTP/1.1 200 OK\r\n" +
		"Content-disposition: inline; filename=capture.jpg\r\n" +
		"Content-type: image/jpeg\r\n\r\n"

	// NotFoundBody is returned for unknown paths.
	NotFoundBody = "404: Not found"
)

// AppendPartHeader appends the part header for a frame of n bytes.
func AppendPartHeader(dst []byte, n int) []byte {
	dst = append(dst, partHeaderPrefix...)
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, partHeaderSuffix...)
}

// writePart writes one frame as a multipart part followed by the boundary.
// scratch is reused for the header to keep the hot path allocation free.
func writePart(conn Conn, scratch []byte, frame []byte) ([]byte, error) {
	scratch = AppendPartHeader(scratch[:0], len(frame))
	if _, err := conn.Write(scratch); err != nil {
		return scratch, err
	}
	if _, err := conn.Write(frame); err != nil {
		return scratch, err
	}
	if _, err := conn.Write([]byte(BoundaryLine)); err != nil {
		return scratch, err
	}
	return scratch, conn.Flush()
}
