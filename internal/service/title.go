package service

import (
	"fmt"
	"strings"

	"github.com/fanout/internal/model"
)

// DeriveTitle вычисляет заголовок канала для зрителя.
// Явное имя важнее всего. Личный канал (2 участника) называется именем собеседника
// или "Unknown". Группа: до двух имён других участников через ", " и ", and N others",
// где N = memberCount - 3; ровно два других участника соединяются через " and ".
func DeriveTitle(name *string, memberCount int, otherNames []string) string {
	if name != nil && strings.TrimSpace(*name) != "" {
		return *name
	}
	if memberCount <= 2 {
		if len(otherNames) == 0 || otherNames[0] == "" {
			return model.UnknownDisplayName
		}
		return otherNames[0]
	}
	switch len(otherNames) {
	case 0:
		return model.UnknownDisplayName
	case 1:
		return otherNames[0]
	case 2:
		return otherNames[0] + " and " + otherNames[1]
	}
	title := strings.Join(otherNames[:2], ", ")
	if rest := memberCount - 1 - 2; rest > 0 {
		title += fmt.Sprintf(", and %d others", rest)
	}
	return title
}
