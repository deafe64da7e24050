package waste

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// fill tier marker colors
var (
	criticalColor = color.RGBA{220, 20, 60, 255}
	warningColor  = color.RGBA{255, 165, 0, 255}
	okColor       = color.RGBA{46, 139, 87, 255}
)

// RouteRenderer draws containers and collection routes on a plain canvas.
// Longitude is scaled by cos(latitude) so the city is not stretched.
type RouteRenderer struct {
	Containers   []ContainerRecord
	Routes       []Route
	Width        float64           // canvas width in mm; height follows the aspect ratio
	Padding      float64           // mm around the data
	Resolution   canvas.Resolution // PNG resolution
	MarkerRadius float64           // mm
	RouteWidth   float64           // mm
	ShowLegend   bool              // PNG only
}

// NewRouteRenderer creates a renderer with default settings
func NewRouteRenderer(containers []ContainerRecord, routes RouteSet) *RouteRenderer {
	return &RouteRenderer{
		Containers:   containers,
		Routes:       routes.Routes,
		Width:        200,
		Padding:      8,
		Resolution:   canvas.DPMM(4),
		MarkerRadius: 0.8,
		RouteWidth:   0.6,
		ShowLegend:   true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// projection maps (lon, lat) to canvas millimeters
type projection struct {
	bound   orb.Bound
	scale   float64
	lonFact float64
	padding float64
}

func (p projection) point(lon, lat float64) (float64, float64) {
	x := (lon-p.bound.Min.Lon())*p.lonFact*p.scale + p.padding
	y := (lat-p.bound.Min.Lat())*p.scale + p.padding
	return x, y
}

// RenderToSVG writes the map as an SVG to the provided writer
func (r *RouteRenderer) RenderToSVG(w io.Writer) error {
	proj, width, height := r.layout()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, proj, width, height)

	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}
	return nil
}

// RenderToPNG writes the map as a PNG, with a category legend when ShowLegend is set
func (r *RouteRenderer) RenderToPNG(w io.Writer) error {
	proj, width, height := r.layout()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, proj, width, height)

	img := image.NewRGBA(rast.Bounds())
	draw.Draw(img, img.Bounds(), rast, rast.Bounds().Min, draw.Src)

	if r.ShowLegend {
		r.drawLegend(img)
	}

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// layout computes the projection and canvas size from the data bound.
func (r *RouteRenderer) layout() (projection, float64, float64) {
	bound := r.bound()
	midLat := (bound.Min.Lat() + bound.Max.Lat()) / 2
	lonFact := math.Cos(midLat * math.Pi / 180)

	spanX := (bound.Max.Lon() - bound.Min.Lon()) * lonFact
	spanY := bound.Max.Lat() - bound.Min.Lat()
	inner := r.Width - 2*r.Padding
	if inner <= 0 {
		inner = r.Width
	}
	scale := inner / spanX

	proj := projection{bound: bound, scale: scale, lonFact: lonFact, padding: r.Padding}
	return proj, r.Width, spanY*scale + 2*r.Padding
}

// bound covers every container and stop; never degenerate.
func (r *RouteRenderer) bound() orb.Bound {
	var mp orb.MultiPoint
	for _, c := range r.Containers {
		mp = append(mp, orb.Point{c.Lon, c.Lat})
	}
	for _, route := range r.Routes {
		for _, s := range route.Stops {
			mp = append(mp, orb.Point{s.Lon, s.Lat})
		}
	}

	var b orb.Bound
	if len(mp) == 0 {
		b = orb.Point{4.9041, 52.3676}.Bound()
	} else {
		b = mp.Bound()
	}
	if b.Max.Lon()-b.Min.Lon() < 0.01 || b.Max.Lat()-b.Min.Lat() < 0.01 {
		b = b.Pad(0.005)
	}
	return b
}

func (r *RouteRenderer) renderToCanvas(renderer canvasRenderer, proj projection, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// Routes below markers
	for _, route := range r.Routes {
		if len(route.Stops) < 2 {
			continue
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: parseHexColor(route.Color)}
		style.StrokeWidth = r.RouteWidth

		path := &canvas.Path{}
		for i, s := range route.Stops {
			x, y := proj.point(s.Lon, s.Lat)
			if i == 0 {
				path.MoveTo(x, y)
			} else {
				path.LineTo(x, y)
			}
		}
		renderer.RenderPath(path, style, canvas.Identity)

		// start marker
		startStyle := canvas.DefaultStyle
		startStyle.Fill = canvas.Paint{Color: parseHexColor(route.Color)}
		startStyle.Stroke = canvas.Paint{Color: canvas.Black}
		startStyle.StrokeWidth = 0.2
		x, y := proj.point(route.Stops[0].Lon, route.Stops[0].Lat)
		renderer.RenderPath(canvas.Circle(r.MarkerRadius*1.8).Translate(x, y), startStyle, canvas.Identity)
	}

	for _, c := range r.Containers {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: fillColor(c.FillLevel)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}
		if c.Status == StatusClosed {
			style.Stroke = canvas.Paint{Color: canvas.Black}
			style.StrokeWidth = 0.2
		}
		x, y := proj.point(c.Lon, c.Lat)
		renderer.RenderPath(canvas.Circle(r.MarkerRadius).Translate(x, y), style, canvas.Identity)
	}
}

// drawLegend lists route categories and fill tiers in the top-left corner.
func (r *RouteRenderer) drawLegend(img *image.RGBA) {
	type entry struct {
		label string
		c     color.RGBA
	}
	var entries []entry
	seen := make(map[Category]bool)
	for _, route := range r.Routes {
		if seen[route.Category] {
			continue
		}
		seen[route.Category] = true
		entries = append(entries, entry{string(route.Category), parseHexColor(route.Color)})
	}
	entries = append(entries,
		entry{"Critical (>=80%)", criticalColor},
		entry{"Warning (60-79%)", warningColor},
		entry{"OK (<60%)", okColor},
	)
	if len(r.Containers) == 0 {
		entries = append([]entry{{"No data", color.RGBA{0, 0, 0, 255}}}, entries...)
	}

	const lineHeight = 16
	x, y := 10, 10
	boxW, boxH := 150, lineHeight*len(entries)+8
	bg := image.Rect(x-4, y-4, x-4+boxW, y-4+boxH)
	draw.Draw(img, bg, image.NewUniform(color.RGBA{255, 255, 255, 230}), image.Point{}, draw.Over)

	for i, e := range entries {
		top := y + i*lineHeight
		swatch := image.Rect(x, top+2, x+10, top+12)
		draw.Draw(img, swatch, image.NewUniform(e.c), image.Point{}, draw.Src)
		drawText(img, x+16, top+11, e.label, color.RGBA{0, 0, 0, 255})
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func fillColor(fill int) color.RGBA {
	switch {
	case fill >= criticalFill:
		return criticalColor
	case fill >= warningFill:
		return warningColor
	default:
		return okColor
	}
}

// parseHexColor parses "#RRGGBB"; anything else is light gray.
func parseHexColor(s string) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{200, 200, 200, 255}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{200, 200, 200, 255}
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}
