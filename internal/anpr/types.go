package anpr

import "encoding/json"

// BoundingBox is the plate region reported by the service, in pixel
// coordinates of the submitted image. The wire order is [x1, y1, x2, y2].
type BoundingBox struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// MarshalJSON keeps the service's [x1, y1, x2, y2] array form.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.Left, b.Top, b.Right, b.Bottom})
}

// UnmarshalJSON accepts the array form written by MarshalJSON.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords [4]float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	*b = BoundingBox{Left: coords[0], Top: coords[1], Right: coords[2], Bottom: coords[3]}
	return nil
}

// Detection is one recognized plate.
type Detection struct {
	Registration string      `json:"registration"`
	Confidence   float64     `json:"confidence"`
	BoundingBox  BoundingBox `json:"bbox"`
}

// Result is a successful recognition outcome. Count is reported by the
// service and is not reconciled against len(Detections).
type Result struct {
	Detections []Detection `json:"detections"`
	Count      int         `json:"count"`
}

// HealthReport is the parsed body of the health endpoint.
type HealthReport struct {
	Status      string `json:"status"`
	ModelLoaded *bool  `json:"model_loaded,omitempty"`
	OCRReady    *bool  `json:"ocr_ready,omitempty"`
	HTTPStatus  int    `json:"-"`
}

// HealthyStatus is the only status value treated as usable.
const HealthyStatus = "healthy"

type processRequest struct {
	Image string `json:"image"`
}

type batchRequest struct {
	Images []string `json:"images"`
}

type wireDetection struct {
	Registration *string    `json:"registration"`
	Confidence   *float64   `json:"confidence"`
	BBox         []*float64 `json:"bbox"`
}

type wireResponse struct {
	Success    *bool            `json:"success"`
	Detections *[]wireDetection `json:"detections"`
	Count      *int             `json:"count"`
	Error      string           `json:"error"`
}
