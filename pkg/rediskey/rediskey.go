package rediskey

import "fmt"

const (
	PointsConfigPrefix = "points:config"
	SequencePrefix     = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildPointsConfigKey returns "points:config:{tenantID}"
func BuildPointsConfigKey(tenantID string) string {
	return NamespaceKey(PointsConfigPrefix, tenantID)
}

// BuildSequenceKey returns "seq:{prefix}:{tenantID}:{day}"
func BuildSequenceKey(prefix, tenantID, day string) string {
	return fmt.Sprintf("%s:%s:%s:%s", SequencePrefix, prefix, tenantID, day)
}
