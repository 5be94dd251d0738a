// Package veo provides an HTTP client for Vertex AI Veo long-running video
// generation (predictLongRunning and fetchPredictOperation).
package veo

// Generation defaults sent with every request. Every clip, including an
// extension, is one DefaultDurationSeconds unit.
const (
	DefaultDurationSeconds = 8
	DefaultAspectRatio     = "9:16"
	DefaultResolution      = "720p"
	DefaultResizeMode      = "crop"
)

// DefaultMaxImageBytes is the inline reference image limit.
const DefaultMaxImageBytes = 20 << 20

// GenerateRequest describes one clip to generate.
type GenerateRequest struct {
	Prompt string
	// ImageURL is fetched and sent inline as the reference image.
	ImageURL string
	// StorageURI is the gs:// prefix the output is written under.
	StorageURI string
	// PriorVideoURI, when set, makes this an extension of that clip.
	PriorVideoURI string
}

// Operation is the state of a long-running generation.
type Operation struct {
	Name string
	Done bool
	// VideoURI is the gs:// location of the output once Done without error.
	VideoURI string
	// Error is the upstream failure reason once Done.
	Error string
}

// predictRequest is the body of :predictLongRunning.
type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt          string      `json:"prompt"`
	DurationSeconds int         `json:"durationSeconds"`
	AspectRatio     string      `json:"aspectRatio"`
	Resolution      string      `json:"resolution"`
	SampleCount     int         `json:"sampleCount"`
	ResizeMode      string      `json:"resizeMode"`
	Image           *inlineData `json:"image,omitempty"`
	Video           *gcsRef     `json:"video,omitempty"`
}

type inlineData struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type gcsRef struct {
	GcsURI string `json:"gcsUri"`
}

type predictParameters struct {
	StorageURI string `json:"storageUri"`
}

// operationResponse is returned by both endpoints.
type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error,omitempty"`
	Response *operationBody  `json:"response,omitempty"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type operationBody struct {
	RAIMediaFilteredCount   int           `json:"raiMediaFilteredCount,omitempty"`
	RAIMediaFilteredReasons []string      `json:"raiMediaFilteredReasons,omitempty"`
	Videos                  []videoOutput `json:"videos,omitempty"`
	Predictions             []videoOutput `json:"predictions,omitempty"`
}

type videoOutput struct {
	GcsURI     string `json:"gcsUri,omitempty"`
	StorageURI string `json:"storageUri,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

func (v videoOutput) uri() string {
	if v.GcsURI != "" {
		return v.GcsURI
	}
	return v.StorageURI
}

type fetchOperationRequest struct {
	OperationName string `json:"operationName"`
}
