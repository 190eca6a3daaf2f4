package events

import (
	"encoding/json"
	"fmt"
)

// setData stores any typed payload in the Data field
func (e *Event) setData(name string, data interface{}) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", name, err)
	}
	e.Data = dataMap
	return nil
}

// GetCycleCompletedData retrieves CycleCompletedData from the Data field.
func (e *Event) GetCycleCompletedData() (*CycleCompletedData, error) {
	var data CycleCompletedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse CycleCompletedData: %w", err)
	}
	return &data, nil
}

// GetChallengeData retrieves ChallengeData from the Data field.
func (e *Event) GetChallengeData() (*ChallengeData, error) {
	var data ChallengeData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ChallengeData: %w", err)
	}
	return &data, nil
}

// GetRecoveryData retrieves RecoveryData from the Data field.
func (e *Event) GetRecoveryData() (*RecoveryData, error) {
	var data RecoveryData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse RecoveryData: %w", err)
	}
	return &data, nil
}

// GetFallbackData retrieves FallbackData from the Data field.
func (e *Event) GetFallbackData() (*FallbackData, error) {
	var data FallbackData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse FallbackData: %w", err)
	}
	return &data, nil
}

// GetJournalCleanupData retrieves JournalCleanupData from the Data field.
func (e *Event) GetJournalCleanupData() (*JournalCleanupData, error) {
	var data JournalCleanupData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JournalCleanupData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
