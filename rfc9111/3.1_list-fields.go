package rfc9111

import (
	"net/http"
	"strings"
)

// GetListHeader returns the members of a list-based field,
// which may be spread over several field lines.
func GetListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
