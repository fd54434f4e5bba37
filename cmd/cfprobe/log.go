package main

import "github.com/sirupsen/logrus"

func logrusDebugLevel() logrus.Level {
	return logrus.DebugLevel
}
