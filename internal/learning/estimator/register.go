package estimator

import "encoding/gob"

// 注册具体类型, 使接口字段可以被 gob 编码
func init() {
	gob.Register(&LinearRegression{})
	gob.Register(&Ridge{})
	gob.Register(&Lasso{})
	gob.Register(&LogisticRegression{})
	gob.Register(&DecisionTree{})
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
	gob.Register(&KNN{})
	gob.Register(&GaussianNB{})
	gob.Register(&KMeans{})
	gob.Register(&DBSCAN{})
}
