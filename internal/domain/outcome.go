package domain

import (
	"fmt"
	"time"
)

// WheelSize 欧式轮盘的结果空间大小（号码 0–36）。
const WheelSize = 37

// PayoutRatio 单号命中的固定赔率（1 赔 35）。
const PayoutRatio = 35

// SpinOutcome 一次开奖结果，记录后不可变。
type SpinOutcome struct {
	Value int       // 开奖号码（0–36）
	Time  time.Time // 观测时间
}

// Validate 校验号码是否在轮盘范围内。
func (o SpinOutcome) Validate() error {
	if o.Value < 0 || o.Value >= WheelSize {
		return fmt.Errorf("开奖号码超出范围: %d", o.Value)
	}
	return nil
}

// Color 返回该结果的颜色。
func (o SpinOutcome) Color() Color {
	return ColorOf(o.Value)
}

// Color 号码颜色。
type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorBlack Color = "black"
)

// redNumbers 欧式轮盘的红色号码集合。
var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true,
	14: true, 16: true, 18: true, 19: true, 21: true, 23: true,
	25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// ColorOf 返回号码的颜色：0 为绿色，其余按红黑集合划分。
func ColorOf(value int) Color {
	switch {
	case value == 0:
		return ColorGreen
	case redNumbers[value]:
		return ColorRed
	default:
		return ColorBlack
	}
}
