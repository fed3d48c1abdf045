package quotas

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func modulePrefix(module string) string {
	return "quota/" + strings.ToLower(strings.TrimSpace(module)) + "/"
}

func counterKey(module string, epoch uint64, addr common.Address) []byte {
	return []byte(modulePrefix(module) + strconv.FormatUint(epoch, 10) + "/" + strings.ToLower(addr.Hex()))
}

func epochMembersKey(module string, epoch uint64) []byte {
	return []byte(modulePrefix(module) + strconv.FormatUint(epoch, 10) + "/members")
}

func activeEpochKey(module string) []byte {
	return []byte(modulePrefix(module) + "active")
}
