package cache

import "fmt"

// KeyRoute keys a route by origin rounded to 4 decimals (~11 m) and the exact destination
func KeyRoute(originLat, originLon, destLat, destLon float64) string {
	return fmt.Sprintf("route:%.4f,%.4f:%.6f,%.6f", originLat, originLon, destLat, destLon)
}
