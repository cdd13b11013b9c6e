package format

import "fmt"

var sizeUnits = [...]string{"KB", "MB", "GB", "TB", "PB"}

// HumanSize 把字节数格式化成带单位的可读字符串，1024 进制
func HumanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	unit := ""
	for _, u := range sizeUnits {
		value /= 1024
		unit = u
		if value < 1024 {
			break
		}
	}
	return fmt.Sprintf("%.2f %s", value, unit)
}
