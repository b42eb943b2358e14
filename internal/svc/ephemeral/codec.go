package ephemeral

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/farmlink/presence/internal/structures"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validUserID = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

func encodeStatus(st structures.EphemeralStatus) ([]byte, error) {
	return json.Marshal(st)
}

func decodeStatus(b []byte) (structures.EphemeralStatus, error) {
	st := structures.EphemeralStatus{}
	err := json.Unmarshal(b, &st)

	return st, err
}

func checkUserID(userID string) error {
	if !validUserID.MatchString(userID) {
		return fmt.Errorf("invalid user id %q", userID)
	}

	return nil
}

// connKey is the liveness key of one connection of a user.
func connKey(userID, connID string) string {
	return userID + "." + connID
}

func parseConnKey(key string) (userID, connID string, ok bool) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return parts[0], parts[1], true
}
