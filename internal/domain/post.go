package domain

// Asset is one processed image belonging to a post. Path and URL are both
// fixed when the file is written; neither is derived from the other later.
type Asset struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
}

// Post is the platform-independent content handed to the fan-out dispatcher.
type Post struct {
	Subject   string      `json:"subject"`
	TextHTML  string      `json:"text_html"`
	TextPlain string      `json:"text_plain"`
	Platforms PlatformSet `json:"platforms"`

	// Assets are in presentation order.
	Assets []Asset `json:"assets,omitempty"`

	// AssetDir is the folder owning every asset of this post. Empty for text-only posts.
	AssetDir string `json:"asset_dir,omitempty"`
}

// HasAltText reports whether any asset carries alt text.
func (p Post) HasAltText() bool {
	for _, a := range p.Assets {
		if a.AltText != "" {
			return true
		}
	}
	return false
}
