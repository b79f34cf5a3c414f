package region

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Extension is the file extension of region containers.
const Extension = ".mca"

// IsContainerName reports whether name carries the container extension.
func IsContainerName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// ParseFileName extracts region coordinates from a file name of the form r.<x>.<z>.mca.
func ParseFileName(name string) (x, z int, ok bool) {
	parts := strings.Split(filepath.Base(name), ".")
	if len(parts) != 4 || parts[0] != "r" || !strings.EqualFold("."+parts[3], Extension) {
		return 0, 0, false
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	z, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, false
	}
	return x, z, true
}

// ExternalPath returns the path of the c.<x>.<z>.mcc file that holds an oversized
// payload for slot in the container at containerPath. Chunk coordinates are
// global, so the container name must carry its region coordinates.
func ExternalPath(containerPath string, slot int) (string, error) {
	rx, rz, ok := ParseFileName(containerPath)
	if !ok {
		return "", fmt.Errorf("region: cannot derive chunk coordinates from %q", filepath.Base(containerPath))
	}
	lx, lz := SlotCoords(slot)
	name := fmt.Sprintf("c.%d.%d.mcc", rx*GridSize+lx, rz*GridSize+lz)
	return filepath.Join(filepath.Dir(containerPath), name), nil
}
