package takeoff

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// circleSegments is the number of edges used to approximate circle annotations
const circleSegments = 32

// ExportGeoJSON builds a FeatureCollection of the given entities. Base
// coordinates are scaled by (pageW, pageH) so the output is in page units with
// y pointing down; pass 1, 1 to keep normalized coordinates.
//
// Area and volume measurements become polygons whose holes are the cutouts.
func ExportGeoJSON(ms []Measurement, as []Annotation, pageW, pageH float64) *geojson.FeatureCollection {
	if pageW <= 0 || pageH <= 0 {
		pageW, pageH = 1, 1
	}
	fc := geojson.NewFeatureCollection()
	for _, m := range ms {
		if f := measurementFeature(m, pageW, pageH); f != nil {
			fc.Append(f)
		}
	}
	for _, a := range as {
		if f := annotationFeature(a, pageW, pageH); f != nil {
			fc.Append(f)
		}
	}
	return fc
}

// MarshalGeoJSON returns ExportGeoJSON encoded as JSON
func MarshalGeoJSON(ms []Measurement, as []Annotation, pageW, pageH float64) ([]byte, error) {
	data, err := ExportGeoJSON(ms, as, pageW, pageH).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling feature collection: %w", err)
	}
	return data, nil
}

func measurementFeature(m Measurement, w, h float64) *geojson.Feature {
	if len(m.Points) == 0 {
		return nil
	}
	var geom orb.Geometry
	pts := orbPoints(m.Points, w, h)
	switch {
	case m.Type == MeasureCount && len(pts) == 1:
		geom = pts[0]
	case m.Type == MeasureCount:
		geom = orb.MultiPoint(pts)
	case m.Type == MeasureLinear:
		geom = orb.LineString(pts)
	default:
		outer := orbRing(m.Points, w, h)
		poly := orb.Polygon{outer}
		for _, c := range m.Cutouts {
			if len(c.Points) < 3 {
				continue
			}
			hole := orbRing(c.Points, w, h)
			if hole.Orientation() == outer.Orientation() {
				hole.Reverse()
			}
			poly = append(poly, hole)
		}
		geom = poly
	}

	f := geojson.NewFeature(geom)
	f.ID = m.ID
	f.Properties["entity"] = string(KindMeasurement)
	f.Properties["type"] = string(m.Type)
	f.Properties["page"] = m.PdfPage
	f.Properties["value"] = m.CalculatedValue
	f.Properties["unit"] = m.Unit
	if m.ConditionID != "" {
		f.Properties["conditionId"] = m.ConditionID
	}
	if m.ConditionName != "" {
		f.Properties["conditionName"] = m.ConditionName
	}
	if m.Color != "" {
		f.Properties["color"] = m.Color
	}
	if m.NetCalculatedValue != nil {
		f.Properties["netValue"] = *m.NetCalculatedValue
	}
	if m.PerimeterValue != nil {
		f.Properties["perimeter"] = *m.PerimeterValue
	}
	if len(m.Cutouts) > 0 {
		f.Properties["cutouts"] = len(m.Cutouts)
	}
	return f
}

func annotationFeature(a Annotation, w, h float64) *geojson.Feature {
	if len(a.Points) != a.Type.PointCount() {
		return nil
	}
	var geom orb.Geometry
	switch a.Type {
	case AnnotateText:
		geom = orbPoints(a.Points, w, h)[0]
	case AnnotateArrow:
		geom = orbLineString(a.Points, w, h)
	case AnnotateRectangle:
		geom = orb.Polygon{orbRing(rectangleCorners(a.Points[0], a.Points[1]), w, h)}
	case AnnotateCircle:
		geom = orb.Polygon{ellipseRing(a.Points[0], a.Points[1], w, h)}
	default:
		return nil
	}

	f := geojson.NewFeature(geom)
	f.ID = a.ID
	f.Properties["entity"] = string(KindAnnotation)
	f.Properties["type"] = string(a.Type)
	f.Properties["page"] = a.PageNumber
	f.Properties["color"] = a.Color
	if a.Text != "" {
		f.Properties["text"] = a.Text
	}
	return f
}

// ellipseRing approximates the ellipse inscribed in the box with opposite
// corners a and b
func ellipseRing(a, b Point, w, h float64) orb.Ring {
	cx, cy := (a.X+b.X)/2*w, (a.Y+b.Y)/2*h
	rx, ry := math.Abs(b.X-a.X)/2*w, math.Abs(b.Y-a.Y)/2*h
	ring := make(orb.Ring, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		t := 2 * math.Pi * float64(i) / circleSegments
		ring = append(ring, orb.Point{cx + rx*math.Cos(t), cy + ry*math.Sin(t)})
	}
	return append(ring, ring[0])
}
