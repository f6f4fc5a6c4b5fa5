package data

// StartRequest is the input of a new download. Filename defaults to the
// last path element of URL and Segments to the configured default.
type StartRequest struct {
	URL      string `json:"url"`
	SavePath string `json:"savePath"`
	Filename string `json:"filename,omitempty"`
	Segments int    `json:"segments,omitempty"`
}

// Details is a download's static metadata together with its progress.
type Details struct {
	*Download
	Progress Progress `json:"progress"`
}
