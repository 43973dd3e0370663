package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/graph/tool"
)

// Tool names as the model sees them.
const (
	ToolGetDatetime = "tool_get_datetime"
	ToolBookHotel   = "tool_book_hotel"
)

// Booking replies returned to the model.
const (
	BookingCancelled = "用户选择取消预定酒店"
	BookingSucceeded = "结果为预定成功"
)

// CancelBooking is the resume value that cancels a booking.
const CancelBooking = "N"

// hotelFields is the form order of the booking arguments.
var hotelFields = []string{"hotel_name", "room_type", "check_in_date"}

// GetDatetime reports the current local time as 2006-01-02 15:04:05. now may
// be nil.
func GetDatetime(now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	spec := model.ToolSpec{
		Name:        ToolGetDatetime,
		Description: "一个用于获取当前时间的工具，没有参数",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
	}
	return tool.Func(spec, func(context.Context, map[string]any) (string, error) {
		return now().Format(time.DateTime), nil
	})
}

// BookHotel books a hotel room after the user confirms the arguments.
//
// The call suspends with an edit form prefilled from the model's arguments.
// The resume value is either CancelBooking or an object with the confirmed
// fields; fields missing from it keep the model's value.
func BookHotel() tool.Tool {
	spec := model.ToolSpec{
		Name:        ToolBookHotel,
		Description: "一个用于预定酒店的工具",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hotel_name":    map[string]any{"type": "string", "description": "酒店名称"},
				"room_type":     map[string]any{"type": "string", "description": "房间类型"},
				"check_in_date": map[string]any{"type": "string", "description": "入住时间"},
			},
			"required": []string{"hotel_name", "room_type", "check_in_date"},
		},
	}
	return tool.Func(spec, bookHotel)
}

func bookHotel(ctx context.Context, input map[string]any) (string, error) {
	requested := make(map[string]string, len(hotelFields))
	for _, field := range hotelFields {
		requested[field] = stringArg(input[field])
	}

	resume, err := graph.Interrupt(ctx, BookingForm(requested))
	if err != nil {
		return "", err
	}
	if s, ok := resume.(string); ok && s == CancelBooking {
		return BookingCancelled, nil
	}

	confirmed, _ := resume.(map[string]any)
	final := make(map[string]string, len(hotelFields))
	var changes []string
	for _, field := range hotelFields {
		final[field] = requested[field]
		v, ok := confirmed[field]
		if !ok {
			continue
		}
		if value := stringArg(v); value != requested[field] {
			final[field] = value
			changes = append(changes, field+"="+value)
		}
	}
	if len(changes) == 0 {
		return BookingSucceeded, nil
	}

	latest, err := json.Marshal(final)
	if err != nil {
		return "", fmt.Errorf("encode booking: %w", err)
	}
	return fmt.Sprintf("用户已经更改参数：%s，最新的为%s，%s", strings.Join(changes, "，"), latest, BookingSucceeded), nil
}

// BookingForm is the interrupt payload shown to the user before booking.
func BookingForm(data map[string]string) map[string]any {
	return map[string]any{
		"title": "请确认酒店预定信息",
		"form": []map[string]any{
			{"field": "hotel_name", "type": "input", "label": "酒店名称", "required": true},
			{
				"field": "room_type",
				"type":  "select",
				"label": "客房类型",
				"options": []map[string]string{
					{"label": "标间", "value": "标间"},
					{"label": "单间", "value": "单间"},
					{"label": "双人间", "value": "双人间"},
				},
				"required": true,
			},
			{"field": "check_in_date", "type": "date", "label": "入住时间"},
		},
		"formData": data,
	}
}

func stringArg(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
