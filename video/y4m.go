package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/tasm/model"
)

const (
	y4mMagic      = "YUV4MPEG2"
	y4mFrameMagic = "FRAME"
)

type y4mChroma int

const (
	chroma420 y4mChroma = iota
	chroma422
	chroma444
	chromaMono
)

// Y4MReader decodes YUV4MPEG2 streams into RGBA frames.
type Y4MReader struct {
	br        *bufio.Reader
	closer    io.Closer
	info      Info
	chroma    y4mChroma
	headerLen int
}

// NewY4MReader parses the stream header of r.
func NewY4MReader(r io.Reader) (*Y4MReader, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("y4m: read header: %w", err)
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != y4mMagic {
		return nil, errors.New("y4m: missing YUV4MPEG2 signature")
	}

	y := &Y4MReader{br: br, headerLen: len(line), chroma: chroma420}
	for _, f := range fields[1:] {
		val := f[1:]
		switch f[0] {
		case 'W':
			y.info.Size.Width, err = strconv.Atoi(val)
		case 'H':
			y.info.Size.Height, err = strconv.Atoi(val)
		case 'F':
			y.info.FrameRate, err = parseRatio(val)
		case 'C':
			y.chroma, err = parseChroma(val)
		}
		if err != nil {
			return nil, fmt.Errorf("y4m: header field %q: %w", f, err)
		}
	}
	if !y.info.Size.Valid() {
		return nil, fmt.Errorf("y4m: invalid frame size %dx%d", y.info.Size.Width, y.info.Size.Height)
	}
	return y, nil
}

func parseRatio(s string) (float64, error) {
	num, den, ok := strings.Cut(s, ":")
	if !ok {
		return 0, errors.New("expected num:den")
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, err
	}
	d, err := strconv.Atoi(den)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, nil
	}
	return float64(n) / float64(d), nil
}

func parseChroma(s string) (y4mChroma, error) {
	switch s {
	case "420", "420jpeg", "420paldv", "420mpeg2":
		return chroma420, nil
	case "422":
		return chroma422, nil
	case "444":
		return chroma444, nil
	case "mono":
		return chromaMono, nil
	default:
		return 0, fmt.Errorf("%w: colorspace %s", ErrUnsupportedFormat, s)
	}
}

func (y *Y4MReader) frameBytes() int {
	w, h := y.info.Size.Width, y.info.Size.Height
	switch y.chroma {
	case chroma420:
		return w*h + 2*((w+1)/2)*((h+1)/2)
	case chroma422:
		return w*h + 2*((w+1)/2)*h
	case chroma444:
		return 3 * w * h
	default:
		return w * h
	}
}

// estimateFrames derives the frame count from the file size, assuming frame headers
// carry no parameters.
func (y *Y4MReader) estimateFrames(fileSize int64) {
	per := int64(len(y4mFrameMagic) + 1 + y.frameBytes())
	if n := (fileSize - int64(y.headerLen)) / per; n > 0 {
		y.info.FrameCount = int(n)
	}
}

// Info implements Source.
func (y *Y4MReader) Info() Info { return y.info }

// ReadFrame implements Source.
func (y *Y4MReader) ReadFrame(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := y.br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("y4m: read frame header: %w", err)
	}
	if !strings.HasPrefix(line, y4mFrameMagic) {
		return nil, fmt.Errorf("y4m: bad frame header %q", strings.TrimSpace(line))
	}

	w, h := y.info.Size.Width, y.info.Size.Height
	rect := image.Rect(0, 0, w, h)
	var src image.Image
	switch y.chroma {
	case chromaMono:
		g := image.NewGray(rect)
		if _, err := io.ReadFull(y.br, g.Pix); err != nil {
			return nil, fmt.Errorf("y4m: read frame: %w", err)
		}
		src = g
	default:
		ratio := map[y4mChroma]image.YCbCrSubsampleRatio{
			chroma420: image.YCbCrSubsampleRatio420,
			chroma422: image.YCbCrSubsampleRatio422,
			chroma444: image.YCbCrSubsampleRatio444,
		}[y.chroma]
		img := image.NewYCbCr(rect, ratio)
		for _, plane := range [][]byte{img.Y, img.Cb, img.Cr} {
			if _, err := io.ReadFull(y.br, plane); err != nil {
				return nil, fmt.Errorf("y4m: read frame: %w", err)
			}
		}
		src = img
	}

	out := image.NewRGBA(rect)
	draw.Draw(out, rect, src, image.Point{}, draw.Src)
	return out, nil
}

// Close implements Source.
func (y *Y4MReader) Close() error {
	if y.closer != nil {
		return y.closer.Close()
	}
	return nil
}

// Y4MWriter encodes RGBA frames as a 4:4:4 YUV4MPEG2 stream.
type Y4MWriter struct {
	bw     *bufio.Writer
	size   model.FrameSize
	planes [3][]byte
}

// NewY4MWriter writes the stream header to w.
func NewY4MWriter(w io.Writer, size model.FrameSize, frameRate float64) (*Y4MWriter, error) {
	if !size.Valid() {
		return nil, fmt.Errorf("y4m: invalid frame size %dx%d", size.Width, size.Height)
	}
	num, den := ratio(frameRate)
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s W%d H%d F%d:%d Ip A1:1 C444\n", y4mMagic, size.Width, size.Height, num, den); err != nil {
		return nil, err
	}
	n := size.Width * size.Height
	return &Y4MWriter{
		bw:     bw,
		size:   size,
		planes: [3][]byte{make([]byte, n), make([]byte, n), make([]byte, n)},
	}, nil
}

func ratio(fps float64) (int, int) {
	if fps <= 0 {
		return 30, 1
	}
	num, den := int(fps*1000+0.5), 1000
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	return num / a, den / a
}

// WriteFrame appends one frame.
func (y *Y4MWriter) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != y.size.Width || b.Dy() != y.size.Height {
		return fmt.Errorf("y4m: frame is %dx%d, stream is %dx%d", b.Dx(), b.Dy(), y.size.Width, y.size.Height)
	}
	i := 0
	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			c := img.RGBAAt(px, py)
			y.planes[0][i], y.planes[1][i], y.planes[2][i] = color.RGBToYCbCr(c.R, c.G, c.B)
			i++
		}
	}
	if _, err := y.bw.WriteString(y4mFrameMagic + "\n"); err != nil {
		return err
	}
	for _, p := range y.planes {
		if _, err := y.bw.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered data to the underlying writer.
func (y *Y4MWriter) Flush() error {
	return y.bw.Flush()
}
