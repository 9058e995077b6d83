package casting

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Geometry is a GeoJSON geometry.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// parseGeometry builds a geometry of geoType from text or a coordinate list.
// Flat inputs are lat,lng pairs and come out in GeoJSON lng,lat order.
func parseGeometry(geoType string, value any) (Geometry, error) {
	switch v := value.(type) {
	case Geometry:
		return v, nil
	case map[string]any:
		return geometryFromObject(v, geoType)
	case string:
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(s), &obj); err != nil {
				return Geometry{}, ngsi.Wrap(ngsi.KindBadGeocoordinates, err, s)
			}
			return geometryFromObject(obj, geoType)
		}
		if strings.HasPrefix(s, "[") {
			var list []any
			if err := json.Unmarshal([]byte(s), &list); err != nil {
				return Geometry{}, ngsi.Wrap(ngsi.KindBadGeocoordinates, err, s)
			}
			return geometryFromList(geoType, list)
		}
		flat, err := splitCoordinates(s)
		if err != nil {
			return Geometry{}, err
		}
		return geometryFromFlat(geoType, flat)
	case []any:
		return geometryFromList(geoType, v)
	case []float64:
		return geometryFromFlat(geoType, v)
	default:
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, fmt.Sprintf("unsupported coordinates %T", value))
	}
}

func geometryFromObject(obj map[string]any, geoType string) (Geometry, error) {
	coords, ok := obj["coordinates"]
	if !ok {
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, "geometry without coordinates")
	}
	if t, ok := obj["type"].(string); ok && t != "" {
		geoType = t
	}
	if geoType == "" {
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, "geometry without type")
	}
	return Geometry{Type: geoType, Coordinates: coords}, nil
}

func geometryFromList(geoType string, list []any) (Geometry, error) {
	if geoType == "" {
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, "geometry without type")
	}
	flat := make([]float64, 0, len(list))
	for _, item := range list {
		n, ok := toFloat(item)
		if !ok {
			// Nested arrays are already GeoJSON ordered.
			return Geometry{Type: geoType, Coordinates: list}, nil
		}
		flat = append(flat, n)
	}
	return geometryFromFlat(geoType, flat)
}

func geometryFromFlat(geoType string, flat []float64) (Geometry, error) {
	if len(flat) == 0 || len(flat)%2 != 0 {
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, fmt.Sprintf("%d coordinates do not form pairs", len(flat)))
	}
	pairs := make([][]float64, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		pairs = append(pairs, []float64{flat[i+1], flat[i]})
	}
	switch geoType {
	case "Point":
		if len(pairs) != 1 {
			return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, "point needs exactly one coordinate pair")
		}
		return Geometry{Type: geoType, Coordinates: pairs[0]}, nil
	case "LineString", "MultiPoint":
		return Geometry{Type: geoType, Coordinates: pairs}, nil
	case "Polygon", "MultiLineString":
		return Geometry{Type: geoType, Coordinates: [][][]float64{pairs}}, nil
	case "MultiPolygon":
		return Geometry{Type: geoType, Coordinates: [][][][]float64{{pairs}}}, nil
	default:
		return Geometry{}, ngsi.NewError(ngsi.KindBadGeocoordinates, "unknown geometry "+geoType)
	}
}

func splitCoordinates(s string) ([]float64, error) {
	if s == "" {
		return nil, ngsi.NewError(ngsi.KindBadGeocoordinates, "empty coordinates")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, ngsi.Wrap(ngsi.KindBadGeocoordinates, err, s)
		}
		out = append(out, n)
	}
	return out, nil
}
