package runs

import "strings"

// Banner lines preceding the explanations of infrastructure errors.
const (
	bannerSeparator = "--------------------------------------------------"
	bannerTitle     = "The executor reported the following infrastructure errors:"
)

type knownError struct {
	substring string
	message   string
}

// knownErrors maps infrastructure log output to explanations for users.
// The first matching entry wins.
var knownErrors = []knownError{
	{"ImagePullBackOff", "The engine image could not be pulled. Check the image name and the image pull secret."},
	{"ErrImagePull", "The engine image could not be pulled. Check the image name and the image pull secret."},
	{"OOMKilled", "The run was stopped because it exceeded its memory limit."},
	{"NoSuchBucket", "The storage bucket configured for runs does not exist."},
	{"AccessDenied", "The executor was denied access to the run storage."},
	{"failed to load artifacts", "The run configuration could not be downloaded from storage."},
	{"failed to save outputs", "The results of the run could not be uploaded to storage."},
	{"x509: certificate", "A TLS certificate could not be verified. Check the CA bundle and proxy settings."},
	{"context deadline exceeded", "The executor timed out while transferring run artifacts."},
}

// explainError returns the explanation of an infrastructure log line.
func explainError(content string) (string, bool) {
	for _, ke := range knownErrors {
		if strings.Contains(content, ke.substring) {
			return ke.message, true
		}
	}
	return "", false
}
