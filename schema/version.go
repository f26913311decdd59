package schema

// APIVersion is a version token exchanged via supported_api_versions.
type APIVersion string

const (
	VersionV001 APIVersion = "0.0.1"
	VersionV002 APIVersion = "0.0.2"

	// Unstable feature identifiers, advertised alongside the stable
	// versions until the corresponding proposals land.
	VersionMSC2762 APIVersion = "org.matrix.msc2762" // event send/receive capabilities
	VersionMSC2871 APIVersion = "org.matrix.msc2871" // capability notification
	VersionMSC2876 APIVersion = "org.matrix.msc2876" // event reading
	VersionMSC2931 APIVersion = "org.matrix.msc2931" // navigation
	VersionMSC2974 APIVersion = "org.matrix.msc2974" // capability renegotiation
	VersionMSC3819 APIVersion = "org.matrix.msc3819" // to-device messaging
	VersionMSC3846 APIVersion = "town.robin.msc3846" // TURN server streaming
)

// CurrentAPIVersions is the fixed list of versions this implementation
// supports, in the order they are advertised.
var CurrentAPIVersions = []APIVersion{
	VersionV001,
	VersionV002,
	VersionMSC2762,
	VersionMSC2871,
	VersionMSC2876,
	VersionMSC2931,
	VersionMSC2974,
	VersionMSC3819,
	VersionMSC3846,
}

// SupportedVersionsResponse is the payload replied to a
// supported_api_versions request in either direction.
type SupportedVersionsResponse struct {
	SupportedVersions []APIVersion `json:"supported_versions"`
}
