// Package boundary resolves geographic coordinates to province names using a
// local polygon shapefile. The shapefile must be in geographic (lon/lat)
// coordinates.
package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// nameFields are the attribute names tried, in order, for each feature's
// region name. Statistics Canada boundary files carry PRENAME/PRNAME.
var nameFields = [...]string{"PRENAME", "PRNAME", "NAME"}

// Index holds region polygons loaded from a boundary shapefile.
type Index struct {
	regions []region
}

type region struct {
	name   string
	bounds *geom.Bounds
	rings  [][]float64
}

// Load reads a polygon shapefile and indexes each feature by its name
// attribute. Features without a name or without usable geometry are skipped.
func Load(path string) (*Index, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for _, field := range nameFields {
		if idx := fieldIndex(reader, field); idx >= 0 {
			nameIdx = idx
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("boundary: no name field (%s) in %s",
			strings.Join(nameFields[:], ", "), path)
	}

	ix := &Index{}
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}

		name := strings.TrimSpace(reader.Attribute(nameIdx))
		if name == "" {
			continue
		}

		rings := polygonRings(poly)
		if len(rings) == 0 {
			continue
		}

		bounds := geom.NewBounds(geom.XY)
		for _, ring := range rings {
			bounds = bounds.Extend(geom.NewLinearRingFlat(geom.XY, ring))
		}
		ix.regions = append(ix.regions, region{name: name, bounds: bounds, rings: rings})
	}

	zap.L().Debug("boundary: shapefile indexed",
		zap.String("path", path),
		zap.Int("regions", len(ix.regions)))
	return ix, nil
}

// Regions returns the number of indexed features.
func (ix *Index) Regions() int {
	return len(ix.regions)
}

// Resolve returns the name of the region containing the point, or "" when no
// region does. Ring membership is counted even-odd, so holes exclude points
// regardless of ring orientation.
func (ix *Index) Resolve(lon, lat float64) string {
	point := geom.Coord{lon, lat}
	for _, r := range ix.regions {
		if !r.bounds.OverlapsPoint(geom.XY, point) {
			continue
		}
		hits := 0
		for _, ring := range r.rings {
			if xy.IsPointInRing(geom.XY, point, ring) {
				hits++
			}
		}
		if hits%2 == 1 {
			return r.name
		}
	}
	return ""
}

// polygonRings splits a shapefile polygon into flat coordinate rings.
func polygonRings(p *shp.Polygon) [][]float64 {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	rings := make([][]float64, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}
		if end-start < 3 {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		rings = append(rings, flat)
	}
	return rings
}

// fieldIndex returns the index of a named field, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}
