package tam

// ObtainResult reports how Atlas.Obtain satisfied, or failed to satisfy, a request
type ObtainResult uint32

const (
	// ObtainFound indicates that the identifier was already present with a compatible size. The
	// region still holds whatever the consumer last wrote to it.
	ObtainFound ObtainResult = iota
	// ObtainInserted indicates that a new region was assigned to the identifier. The consumer is
	// expected to fill it before use.
	ObtainInserted
	// ObtainFailImageFull indicates that no region could be made available for the request
	ObtainFailImageFull
	// ObtainFailMapFull indicates that a region was available but the identifier map could not
	// accept the identifier
	ObtainFailMapFull
	// ObtainFailSizeChange indicates that the identifier was used earlier in the active access
	// range with a size that does not match the request
	ObtainFailSizeChange
)

var obtainResultMapping = map[ObtainResult]string{
	ObtainFound:          "ObtainFound",
	ObtainInserted:       "ObtainInserted",
	ObtainFailImageFull:  "ObtainFailImageFull",
	ObtainFailMapFull:    "ObtainFailMapFull",
	ObtainFailSizeChange: "ObtainFailSizeChange",
}

func (r ObtainResult) String() string {
	return obtainResultMapping[r]
}

// Succeeded returns true if the result carries a usable location
func (r ObtainResult) Succeeded() bool {
	return r == ObtainFound || r == ObtainInserted
}
